// Package recorder keeps a SQLite inventory of the group addresses and
// devices seen on the KNX bus.
//
// The inventory helps commissioning (which addresses are alive, which answer
// reads, what they last carried). It is never used to restore accessory state.
//
//	rec := recorder.New(db.DB)
//	if err := rec.Start(ctx); err != nil {
//	    return err
//	}
//	defer rec.Stop()
//	bus.AddObserver(rec)
package recorder
