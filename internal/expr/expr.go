// Package expr — маленький язык выражений, которым описываются поля, базы и
// мета-опции динамических моделей.
//
// Выражение — закрытая сумма вариантов: Literal, Attribute, ClassAttribute,
// ClassMethod, Callable, Attribs, Queryset, Datetime и Unknown. Unknown хранит
// документ с нераспознанным тегом и при вычислении возвращается как есть.
package expr

// Tag — значение поля "type" в сериализованном выражении.
type Tag string

const (
	TagLiteral        Tag = ""
	TagAttribute      Tag = "attribute"
	TagClassAttribute Tag = "class_attribute"
	TagClassMethod    Tag = "class_method"
	TagCallable       Tag = "callable"
	TagAttribs        Tag = "attribs"
	TagQueryset       Tag = "queryset"
	TagDatetime       Tag = "datetime"
)

// Expr — любое выражение.
type Expr interface {
	Tag() Tag
	isExpr()
}

// Effect — выражение, вычисление которого имеет побочный эффект.
// Единственный такой вариант — ClassMethod.
type Effect interface {
	Expr
	isEffect()
}

// IsEffect сообщает, вызывает ли вычисление e код с побочными эффектами.
func IsEffect(e Expr) bool {
	_, ok := e.(Effect)
	return ok
}

// Params — позиционные и именованные аргументы вызова.
type Params struct {
	Positionals []Expr
	Keywords    map[string]Expr
}

// Empty — нет ни одного аргумента.
func (p Params) Empty() bool { return len(p.Positionals) == 0 && len(p.Keywords) == 0 }

type Literal struct {
	Value any
}

type Attribute struct {
	Module    string
	Attribute string
}

type ClassAttribute struct {
	Module    string
	Class     string
	Attribute string
}

// ClassMethod вызывается сразу при вычислении.
type ClassMethod struct {
	Module string
	Class  string
	Method string
	Params Params
}

type Callable struct {
	Module   string
	Callable string
	Params   Params
}

// AttribStep — шаг цепочки: либо имя атрибута, либо вызов (Call != nil).
type AttribStep struct {
	Name string
	Call *Params
}

type Attribs struct {
	Module string
	Steps  []AttribStep
}

// Method — один шаг queryset-цепочки.
type Method struct {
	Name   string
	Params Params
}

type Queryset struct {
	Module  string
	Model   string
	Methods []Method
}

type Datetime struct {
	Value string
}

// Unknown — документ с тегом, которого нет в грамматике.
type Unknown struct {
	Raw map[string]any
}

func (*Literal) Tag() Tag        { return TagLiteral }
func (*Attribute) Tag() Tag      { return TagAttribute }
func (*ClassAttribute) Tag() Tag { return TagClassAttribute }
func (*ClassMethod) Tag() Tag    { return TagClassMethod }
func (*Callable) Tag() Tag       { return TagCallable }
func (*Attribs) Tag() Tag        { return TagAttribs }
func (*Queryset) Tag() Tag       { return TagQueryset }
func (*Datetime) Tag() Tag       { return TagDatetime }

func (u *Unknown) Tag() Tag {
	t, _ := u.Raw["type"].(string)
	return Tag(t)
}

func (*Literal) isExpr()        {}
func (*Attribute) isExpr()      {}
func (*ClassAttribute) isExpr() {}
func (*ClassMethod) isExpr()    {}
func (*Callable) isExpr()       {}
func (*Attribs) isExpr()        {}
func (*Queryset) isExpr()       {}
func (*Datetime) isExpr()       {}
func (*Unknown) isExpr()        {}

func (*ClassMethod) isEffect() {}

// ref — человекочитаемая ссылка для сообщений об ошибках.
func ref(e Expr) string {
	switch x := e.(type) {
	case *Attribute:
		return x.Module + "." + x.Attribute
	case *ClassAttribute:
		return x.Module + "." + x.Class + "." + x.Attribute
	case *ClassMethod:
		return x.Module + "." + x.Class + "." + x.Method + "()"
	case *Callable:
		return x.Module + "." + x.Callable + "()"
	case *Attribs:
		return x.Module + "..."
	case *Queryset:
		return x.Module + "." + x.Model + ".objects"
	case *Datetime:
		return x.Value
	default:
		return string(e.Tag())
	}
}
