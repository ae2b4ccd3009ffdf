// Command fabricd wires the execution fabric's core components by hand —
// no DI framework, matching the teacher's cmd/demo wiring style — and
// serves the reference chi HTTP binding (spec §6A).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/execfabric/fabric/httpapi"
	"github.com/execfabric/fabric/realms/content"
	"github.com/execfabric/fabric/runtime/api"
	"github.com/execfabric/fabric/runtime/artifact"
	memartifact "github.com/execfabric/fabric/runtime/artifact/memory"
	"github.com/execfabric/fabric/runtime/execution"
	"github.com/execfabric/fabric/runtime/healthz"
	"github.com/execfabric/fabric/runtime/intentregistry"
	"github.com/execfabric/fabric/runtime/outbox"
	inmemoutbox "github.com/execfabric/fabric/runtime/outbox/memory"
	"github.com/execfabric/fabric/runtime/realm"
	"github.com/execfabric/fabric/runtime/session"
	inmemsession "github.com/execfabric/fabric/runtime/session/memory"
	"github.com/execfabric/fabric/runtime/state"
	memstate "github.com/execfabric/fabric/runtime/state/memory"
	"github.com/execfabric/fabric/runtime/wal"
	inmemwal "github.com/execfabric/fabric/runtime/wal/memory"
)

const serviceVersion = "0.1.0"

func main() {
	// 1) Intent Registry and Realm Registry.
	intents := intentregistry.New()
	realms := realm.New(intents)
	if err := realms.RegisterRealm(content.New()); err != nil {
		log.Fatalf("register content realm: %v", err)
	}

	// 2) Core collaborators. In-memory backends are wired explicitly — spec
	// §4.4's "use-memory is opt-in" rule means nothing defaults silently.
	// Swapping in runtime/state/mongostate, runtime/state/redisstate, and
	// runtime/wal/pulsewal only requires constructing those instead here.
	w := wal.New(inmemwal.New(), inmemwal.New(), nil)
	ss := state.New(memstate.New(), memstate.New())
	ob := outbox.New(inmemoutbox.New(), nil)
	steward := execution.NewInMemorySteward(8, 50)

	plane, err := artifact.New(memartifact.NewRegistry(), memartifact.NewBlobStore(), nil)
	if err != nil {
		log.Fatalf("construct artifact plane: %v", err)
	}

	mgr, err := execution.New(execution.Options{
		Intents: intents, WAL: w, State: ss, Outbox: ob, Steward: steward, Artifacts: plane,
	})
	if err != nil {
		log.Fatalf("construct execution manager: %v", err)
	}

	sessions := session.NewManager(inmemsession.New(), w, nil)

	svc, err := api.New(api.Options{
		Sessions: sessions, Execution: mgr, Artifacts: plane, State: ss, Outbox: ob,
	})
	if err != nil {
		log.Fatalf("construct api service: %v", err)
	}

	// 3) Health aggregation over every wired backend adapter that implements
	// health.Pinger. The in-memory backends above don't (they can't fail),
	// so this process reports healthy with nothing to ping until real
	// backends are substituted in.
	health := healthz.New("fabric", serviceVersion)

	router, err := httpapi.NewRouter(httpapi.Options{Service: svc, Health: health})
	if err != nil {
		log.Fatalf("construct http router: %v", err)
	}

	addr := os.Getenv("FABRIC_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		fmt.Printf("fabricd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("http server shutdown: %v", err)
	}
}
