package types

import "fmt"

// Kind describes how an article is counted.
type Kind uint8

const (
	// Discrete articles are counted in whole units only.
	Discrete Kind = iota
	// Bulk articles may be split into exact fractional units.
	Bulk
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Discrete:
		return "discrete"
	case Bulk:
		return "bulk"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ArticleType identifies a kind of resource (e.g. "iron_ore" or "water").
// The zero value is the empty type backing the Nothing article.
type ArticleType struct {
	name string
	kind Kind
}

// NewArticleType creates an article type.
func NewArticleType(name string, kind Kind) ArticleType {
	return ArticleType{name: name, kind: kind}
}

// Name returns the type name.
func (t ArticleType) Name() string { return t.name }

// Kind returns how articles of this type are counted.
func (t ArticleType) Kind() Kind { return t.kind }

// Article returns the untagged article of this type.
func (t ArticleType) Article() Article { return Article{typ: t} }

// Article is an immutable, comparable resource reference: an article type
// plus optional tag data. Articles with equal content are equal and hash
// identically, so they can be used directly as map keys.
type Article struct {
	typ ArticleType
	tag string
}

// Nothing is the sentinel empty article.
var Nothing Article

// ArticleOf builds an article from its parts.
func ArticleOf(name string, kind Kind, tag string) Article {
	if name == "" {
		return Nothing
	}
	return Article{typ: ArticleType{name: name, kind: kind}, tag: tag}
}

// Type returns the article type.
func (a Article) Type() ArticleType { return a.typ }

// Tag returns the auxiliary tag data.
func (a Article) Tag() string { return a.tag }

// WithTag returns a copy of a carrying the given tag.
func (a Article) WithTag(tag string) Article {
	if a.IsNothing() {
		return Nothing
	}
	a.tag = tag
	return a
}

// IsNothing reports whether a is the empty article.
func (a Article) IsNothing() bool { return a.typ.name == "" }

// IsDiscrete reports whether a is counted in whole units.
func (a Article) IsDiscrete() bool { return a.typ.kind == Discrete }

// String returns "name" or "name#tag".
func (a Article) String() string {
	if a.IsNothing() {
		return "nothing"
	}
	if a.tag == "" {
		return a.typ.name
	}
	return a.typ.name + "#" + a.tag
}
