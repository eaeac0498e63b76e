// Commit protocol: a five-step sequence built around a "dirty bit set
// before write, cleared on clean close" convention, generalized here to
// commit-version bookkeeping: the coordinator's version/topRef pair
// plays the role a header dirty bit plays elsewhere — both exist so a
// crash mid-commit is detectable and leaves the prior state intact.
package coordinator

// CommitWrite commits realm's write transaction, optionally skipping
// the fsync-to-disk step, and fires did_change on the binding context.
// Steps, per spec.md §4.4:
//  1. Acquire the notifier mutex.
//  2. Commit the underlying write transaction.
//  3. Promote the write's scratch-slab bytes into file sections and
//     persist the new top-ref, unconditionally; toDisk only controls
//     whether the mapped file is additionally fsynced here.
//  4. If any registered notifier has a callback, record the pre-commit
//     version (the new version minus one) as the skip version so the
//     worker elides a spurious self-notification.
//  5. Release the mutex and fire did_change; nothing else touches realm
//     afterward, since did_change may itself close it.
func (c *Coordinator) CommitWrite(realm *Realm, toDisk bool) error {
	c.notifierMu.Lock()

	newVersion := c.version + 1
	newTopRef := realm.tx.TopRef() // caller has already written the new object graph and updated this

	if err := realm.tx.Commit(newTopRef, newVersion); err != nil {
		c.notifierMu.Unlock()
		return err
	}

	c.version = newVersion
	c.topRef = newTopRef
	c.history.Append(newVersion, nil)

	if c.alloc != nil {
		if err := c.alloc.PromoteToFile(newTopRef); err != nil {
			c.notifierMu.Unlock()
			return err
		}
		if toDisk {
			if mf := c.alloc.MappedFile(); mf != nil {
				if err := mf.Sync(); err != nil {
					c.notifierMu.Unlock()
					return err
				}
			}
		}
	}

	hasCallback := false
	for _, n := range c.notifiers {
		if n.hasCallback {
			hasCallback = true
			break
		}
	}
	if hasCallback {
		v := newVersion - 1
		c.skipVersion = &v
	}

	c.metrics.IncCommits()
	c.notifierMu.Unlock()

	c.worker.wake()

	if realm.OnChange != nil {
		realm.OnChange()
	}
	return nil
}
