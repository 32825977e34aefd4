package stockpile

import (
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Re-export common types so simple callers only import the root package.

type (
	Fraction    = types.Fraction
	Article     = types.Article
	ArticleType = types.ArticleType
	Kind        = types.Kind
	Entity      = types.Entity

	Store       = store.Store
	ArticleView = store.ArticleView
	Function    = store.Function
	Listener    = store.Listener
	Event       = store.Event

	Scope       = txn.Scope
	Coordinator = txn.Coordinator
)

// Article kinds.
const (
	Discrete = types.Discrete
	Bulk     = types.Bulk
)

// Re-export Fraction constructors
var (
	Whole        = types.Whole
	Of           = types.Of
	OfWhole      = types.OfWhole
	ZeroFraction = types.ZeroFraction
)

// Re-export article constructors
var (
	NewArticleType = types.NewArticleType
	ArticleOf      = types.ArticleOf
	Nothing        = types.Nothing
)

// Re-export store constructors
var (
	NewSingleArticleStore = store.NewSingleArticleStore
	NewMultiArticleStore  = store.NewMultiArticleStore
	NewAggregateStore     = store.NewAggregateStore
)

// AsOwner marks a context as the coordinator's owner lane.
var AsOwner = txn.AsOwner
