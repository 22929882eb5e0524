// Package shutdown coordinates graceful process termination.
//
// Components register named hooks in start-up order; on SIGINT, SIGTERM or
// an explicit Trigger the hooks run in reverse order under a shared
// timeout:
//
//	h := shutdown.NewHandler(15*time.Second, logger)
//	h.OnShutdown("storage", store.Close)
//	h.OnShutdown("http", srv.Shutdown)
//	err := h.Wait(ctx)
package shutdown
