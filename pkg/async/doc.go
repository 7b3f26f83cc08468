// Package async provides a bounded worker pool for background jobs such as
// archive backfills.
//
// Pool runs tasks on a fixed number of workers with a per-task timeout.
// Panics are recovered and reported as task errors:
//
//	pool := async.NewPool(ctx, 4, "archive", 10*time.Minute, logger)
//	for _, day := range days {
//		pool.Submit(func(ctx context.Context) error {
//			_, err := archiver.ArchiveDay(ctx, day)
//			return err
//		})
//	}
//	errs := pool.Wait()
//
// Batch is the same for a slice of items:
//
//	errs := async.Batch(ctx, days, 4, "archive", 10*time.Minute, logger, archiveDay)
package async
