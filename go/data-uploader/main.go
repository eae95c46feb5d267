package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"

	"github.com/oslokommune/data-uploader/go/ingest"
	"github.com/oslokommune/data-uploader/go/runtime"
)

const iniFilename = "data-uploader.ini"

// Config is the top-level configuration object of the data uploader.
var Config = new(runtime.UploaderConfig)

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"config":    Config,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("data-uploader configuration")

	api, _, err := runtime.BuildUploader(Config)
	mbp.Must(err, "building uploader")

	var router = mux.NewRouter()
	ingest.RegisterAPIs(router, api)

	var srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", Config.Uploader.Port),
		Handler: router,
	}
	var tasks = task.NewGroup(context.Background())

	tasks.Queue("http.Serve", func() error {
		log.WithField("addr", srv.Addr).Info("starting data-uploader")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	tasks.Queue("http.Shutdown", func() error {
		<-tasks.Context().Done()
		var ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	queueSignalWatcher(tasks)
	tasks.GoRun()

	// Block until all tasks complete. Assert none returned an error.
	mbp.Must(tasks.Wait(), "uploader task failed")
	log.Info("goodbye")

	return nil
}

type cmdConsume struct{}

func (cmdConsume) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"config":    Config,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("data-uploader consumer configuration")

	_, consumer, err := runtime.BuildUploader(Config)
	mbp.Must(err, "building uploader")

	var tasks = task.NewGroup(context.Background())

	tasks.Queue("queue.Consume", func() error {
		log.WithField("queue", Config.Uploader.EventQueueName).Info("starting queue consumer")
		return consumer.Serve(tasks.Context())
	})
	queueSignalWatcher(tasks)
	tasks.GoRun()

	mbp.Must(tasks.Wait(), "consumer task failed")
	log.Info("goodbye")

	return nil
}

func queueSignalWatcher(tasks *task.Group) {
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the data-uploader HTTP API", `
Serve the data-uploader HTTP API with the provided configuration, until
signaled to exit (via SIGTERM).
`, &cmdServe{})

	_, _ = parser.AddCommand("consume", "Consume the dataset event queue", `
Receive and handle enqueued dataset event batches, one at a time, until
signaled to exit (via SIGTERM).
`, &cmdConsume{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
