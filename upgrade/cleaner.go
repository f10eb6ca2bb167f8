package upgrade

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/upgradekit/odooup/database"
	"github.com/upgradekit/odooup/genericclioptions"
)

// teardowner is the database operation cleanup depends on.
type teardowner interface {
	TearDown(ctx context.Context) error
}

// Cleaner guarantees teardown of the session's external resources: the
// ephemeral database service with its volume and the generated build and
// service descriptors. Run executes at most once per session regardless
// of which state the orchestrator exited from, and is safe to invoke
// when no resources were ever created.
type Cleaner struct {
	*genericclioptions.IOStreams

	Session *Session
	DB      teardowner

	once sync.Once
}

func NewCleaner(iostreams *genericclioptions.IOStreams, session *Session, db teardowner) *Cleaner {
	return &Cleaner{
		IOStreams: iostreams,
		Session:   session,
		DB:        db,
	}
}

// Run tears the session down. Subsequent calls are no-ops.
func (c *Cleaner) Run(ctx context.Context) {
	c.once.Do(func() { c.run(ctx) })
}

func (c *Cleaner) run(ctx context.Context) {
	c.Infof("Cleaning up docker environment...\n")

	if err := c.DB.TearDown(ctx); err != nil {
		c.Errorf("database teardown: %v\n", err)
	}

	for _, name := range []string{DockerfileName, WorkerComposeFileName, database.ComposeFileName} {
		path := filepath.Join(c.Session.WorkDir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.Errorf("could not remove %s: %v\n", path, err)
		}
	}
}
