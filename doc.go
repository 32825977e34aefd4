// Package stockpile provides a transactional ledger for fungible resource
// quantities spread across many stores.
//
// Stockpile is designed as a library, not a service. It answers four
// questions: how much of an article exists, where it is, how N units can be
// moved atomically, and how observers stay in sync with little traffic. It
// provides:
//
//   - Exact rational quantities (Fraction) for divisible bulk articles
//   - Nested transaction scopes with commit or rollback on exit
//   - Single-article stores rolled back by snapshot, multi-article stores
//     rolled back by a delta journal
//   - Aggregate stores that route requests across member stores
//   - A listener protocol for handle-indexed replicas
//   - Background persistence of store state through grove-backed
//     repositories
//
// # Quick Start
//
//	repo := memory.New()
//	l := stockpile.New(repo)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	chest := stockpile.NewMultiArticleStore(stockpile.Whole(64))
//	if err := l.Register(ctx, chest); err != nil {
//	    log.Fatal(err)
//	}
//
// # Scopes
//
// Every mutation enlists the store in the scope carried by the context.
// Closing a scope without committing undoes every change made in it:
//
//	err := l.Run(ctx, func(ctx context.Context) error {
//	    n, err := chest.Supplier().Apply(ctx, ore, 8, false)
//	    if err != nil || n < 8 {
//	        return errNotEnough // rolls back
//	    }
//	    _, err = furnace.Consumer().Apply(ctx, ore, n, false)
//	    return err
//	})
//
// Transfer does the same for the common case of moving one article between
// two stores.
//
// # Aggregates
//
// An aggregate presents many stores as one. Supplies drain the members
// that hold the article; accepts fill holders first, then the other
// members. The aggregate's bookkeeping is fed by member notifications and
// checked against the members after every rollback.
//
// # Persistence
//
// Registered stores are restored from the repository on Register and
// written back by a background worker after they change. Store state is an
// opaque CBOR blob; aggregates are never persisted since their contents
// live in their members. Portable stores persist through a BlobBinding
// supplied by the host instead.
//
// # Change feed
//
// WithListener attaches a listener to every registered store. The
// replica/redisfeed package provides one that publishes store events to
// Redis, and Follow rebuilds a replica.Mirror from them in another process.
//
// # TypeID
//
// Stores and scopes use TypeIDs:
//
//	store_01h2xcejqtf2nbrexx3vqjhp41  // Store ID
//	txn_01h455vb4pex5vsknk084sn02q    // Scope ID
package stockpile
