package db

import (
	"horse.fit/linkwire/internal/cluster"
	"horse.fit/linkwire/internal/embedding"
	"horse.fit/linkwire/internal/enrich"
	"horse.fit/linkwire/internal/feeds"
	"horse.fit/linkwire/internal/ingest"
	"horse.fit/linkwire/internal/velocity"
)

var (
	_ ingest.Store    = (*Pool)(nil)
	_ enrich.Store    = (*Pool)(nil)
	_ velocity.Store  = (*Pool)(nil)
	_ embedding.Store = (*Pool)(nil)
	_ cluster.Store   = (*Pool)(nil)
	_ feeds.Store     = (*Pool)(nil)
)
