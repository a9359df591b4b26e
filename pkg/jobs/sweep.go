package jobs

import (
	"context"

	"github.com/glopm-dev/glopm-registry/pkg/registry/services"
	"github.com/glopm-dev/glopm-registry/pkg/tools"
	"github.com/robfig/cron/v3"
)

// ScheduleBlobSweep sets up a cron job that removes orphaned blobs every
// day. A publish interrupted between blob write and metadata write leaks an
// unreferenced blob; the sweep is how it gets reclaimed.
func ScheduleBlobSweep(ctx context.Context, svc *services.RegistryService) *cron.Cron {
	c := cron.New()
	_, _ = c.AddFunc("@daily", func() {
		tools.Dispatch(context.Background(), "sweep", func(ctx context.Context) error {
			return svc.SweepOrphanBlobs(ctx)
		})
	})
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c
}
