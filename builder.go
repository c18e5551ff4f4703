package poingest

import (
	"time"
)

// PipelineBuilder assembles a Pipeline. Store, Fetcher and JobName are
// required; everything else has defaults matching the production setup.
type PipelineBuilder interface {
	Mode(mode Mode) PipelineBuilder
	Fetcher(fetcher *Fetcher) PipelineBuilder
	PageLimit(limit int) PipelineBuilder
	ChunkSize(size int) PipelineBuilder
	IncrementalDays(days int) PipelineBuilder
	TruncateHistorical(truncate bool) PipelineBuilder
	LockStaleAfter(d time.Duration) PipelineBuilder
	Evaluator(evaluator *Evaluator) PipelineBuilder
	Notifier(notifier Notifier) PipelineBuilder
	Refresh(refresh RefreshFunc) PipelineBuilder
	Archiver(archiver *PageArchiver) PipelineBuilder
	Clock(now func() time.Time) PipelineBuilder
	Build() *Pipeline
}

// NewPipelineBuilder create a PipelineBuilder for the named job.
func NewPipelineBuilder(jobName string, store Store) PipelineBuilder {
	if jobName == "" {
		panic("job name must not be empty")
	}
	if store == nil {
		panic("store must not be nil")
	}
	return &pipelineBuilder{
		jobName:         jobName,
		store:           store,
		mode:            ModeDaily,
		pageLimit:       DefaultPageLimit,
		chunkSize:       DefaultLoadChunkSize,
		incrementalDays: DefaultIncrementalDays,
		lockStaleAfter:  DefaultLockStaleAfter,
		notifier:        &NopNotifier{},
		now:             time.Now,
	}
}

type pipelineBuilder struct {
	jobName            string
	store              Store
	mode               Mode
	fetcher            *Fetcher
	pageLimit          int
	chunkSize          int
	incrementalDays    int
	truncateHistorical bool
	lockStaleAfter     time.Duration
	evaluator          *Evaluator
	notifier           Notifier
	refresh            RefreshFunc
	archiver           *PageArchiver
	now                func() time.Time
}

func (b *pipelineBuilder) Mode(mode Mode) PipelineBuilder {
	if mode != ModeDaily && mode != ModeHistorical {
		panic("mode must be daily or historical")
	}
	b.mode = mode
	return b
}

func (b *pipelineBuilder) Fetcher(fetcher *Fetcher) PipelineBuilder {
	b.fetcher = fetcher
	return b
}

func (b *pipelineBuilder) PageLimit(limit int) PipelineBuilder {
	if limit > 0 && limit <= DefaultPageLimit {
		b.pageLimit = limit
	}
	return b
}

func (b *pipelineBuilder) ChunkSize(size int) PipelineBuilder {
	b.chunkSize = size
	return b
}

func (b *pipelineBuilder) IncrementalDays(days int) PipelineBuilder {
	if days > 0 {
		b.incrementalDays = days
	}
	return b
}

func (b *pipelineBuilder) TruncateHistorical(truncate bool) PipelineBuilder {
	b.truncateHistorical = truncate
	return b
}

func (b *pipelineBuilder) LockStaleAfter(d time.Duration) PipelineBuilder {
	if d > 0 {
		b.lockStaleAfter = d
	}
	return b
}

func (b *pipelineBuilder) Evaluator(evaluator *Evaluator) PipelineBuilder {
	b.evaluator = evaluator
	return b
}

func (b *pipelineBuilder) Notifier(notifier Notifier) PipelineBuilder {
	if notifier != nil {
		b.notifier = notifier
	}
	return b
}

func (b *pipelineBuilder) Refresh(refresh RefreshFunc) PipelineBuilder {
	b.refresh = refresh
	return b
}

func (b *pipelineBuilder) Archiver(archiver *PageArchiver) PipelineBuilder {
	b.archiver = archiver
	return b
}

func (b *pipelineBuilder) Clock(now func() time.Time) PipelineBuilder {
	if now != nil {
		b.now = now
	}
	return b
}

func (b *pipelineBuilder) Build() *Pipeline {
	if b.fetcher == nil {
		panic("you must specify a fetcher before building the pipeline")
	}
	return &Pipeline{
		jobName:            b.jobName,
		mode:               b.mode,
		store:              b.store,
		fetcher:            b.fetcher,
		transformer:        &Transformer{},
		loader:             NewLoader(b.store, b.chunkSize),
		evaluator:          b.evaluator,
		notifier:           b.notifier,
		refresh:            b.refresh,
		archiver:           b.archiver,
		pageLimit:          b.pageLimit,
		incrementalDays:    b.incrementalDays,
		truncateHistorical: b.truncateHistorical,
		lockStaleAfter:     b.lockStaleAfter,
		now:                b.now,
	}
}
