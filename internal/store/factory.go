package store

import (
	"trackmirror.app/syncd/core/db"
)

type Stores struct {
	q db.Querier
}

func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Projects() ProjectStore {
	return newProjectStore(s.q)
}

func (s *Stores) SyncJobs() SyncJobStore {
	return newSyncJobStore(s.q)
}

func (s *Stores) SyncStates() SyncStateStore {
	return newSyncStateStore(s.q)
}

func (s *Stores) SyncLogs() SyncLogStore {
	return newSyncLogStore(s.q)
}

func (s *Stores) Mirror() MirrorStore {
	return newMirrorStore(s.q)
}
