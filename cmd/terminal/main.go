// Command terminal boots one point-of-sale fleet terminal: it verifies the
// machine's license, opens its local embedded store, and then runs either
// as the fleet's LAN Master (accepting other terminals' sync connections)
// or as a Satellite (discovering and syncing against a Master) depending on
// TERMINAL_ROLE.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jhonslife/giro-license-server/internal/eventbus"
	"github.com/jhonslife/giro-license-server/internal/models"
	"github.com/jhonslife/giro-license-server/internal/sync"
	"github.com/jhonslife/giro-license-server/internal/termstore"
	"github.com/jhonslife/giro-license-server/pkg/license"
)

func main() {
	licenseServer := getEnv("LICENSE_SERVER_URL", "https://license.giro.io")
	publicKey := getEnv("LICENSE_PUBLIC_KEY", "")
	dataDir := getEnv("TERMINAL_DATA_DIR", "./data/terminal")
	role := getEnv("TERMINAL_ROLE", "satellite")
	listenAddr := getEnv("SYNC_LISTEN_ADDR", ":7700")
	wsPath := getEnv("SYNC_WS_PATH", "/sync/ws")
	mdnsInstance := getEnv("MDNS_SERVICE_INSTANCE", "giro-terminal")
	mdnsType := getEnv("MDNS_SERVICE_TYPE", "_giro-sync._tcp")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create terminal data directory: %v", err)
	}

	manager, err := license.NewManager(license.ManagerConfig{
		PublicKey:     publicKey,
		LicenseServer: licenseServer,
		OfflineGrace:  7 * 24 * time.Hour,
		CheckInterval: time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize license manager: %v", err)
	}

	if err := manager.LoadFromEnv("GIRO_LICENSE_KEY"); err != nil {
		log.Fatalf("Failed to load license: %v", err)
	}

	hardwareID := license.GetHardwareIDWithFallback()

	store, err := termstore.Open(dataDir + "/terminal.db")
	if err != nil {
		log.Fatalf("Failed to open terminal store: %v", err)
	}
	defer store.Close()

	if lic := manager.GetLicense(); lic != nil {
		status := models.LicenseStatusActive
		if !manager.IsValid() {
			status = models.LicenseStatusExpired
		}
		var expiresAt *time.Time
		if !lic.IsLifetime() && !lic.ExpiresAt.IsZero() {
			v := lic.ExpiresAt
			expiresAt = &v
		}
		_ = store.CacheLicense(context.Background(), &models.License{
			LicenseKey: lic.ID,
			Status:     status,
			PlanType:   models.PlanType(lic.PlanType),
			ExpiresAt:  expiresAt,
		})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager.StartBackgroundValidation(ctx)

	switch role {
	case "master":
		runMaster(ctx, store, manager, listenAddr, wsPath, mdnsInstance, mdnsType)
	case "satellite":
		runSatellite(ctx, store, hardwareID, manager.GetLicense().ID, mdnsType, wsPath)
	default:
		log.Fatalf("Unknown TERMINAL_ROLE %q (expected \"master\" or \"satellite\")", role)
	}
}

func runMaster(ctx context.Context, store sync.Store, manager *license.Manager, listenAddr, wsPath, mdnsInstance, mdnsType string) {
	bus := eventbus.NewBus(256)
	master := sync.NewMaster(store, bus, licenseAuthenticator{manager: manager})

	mux := http.NewServeMux()
	mux.Handle(wsPath, master)

	srv := &http.Server{Addr: listenAddr, Handler: mux}

	port := portFromAddr(listenAddr)
	advertiser, err := sync.Advertise(mdnsInstance, mdnsType, port)
	if err != nil {
		log.Printf("sync: mdns advertisement failed, satellites must use a static address: %v", err)
	} else {
		defer advertiser.Shutdown()
	}

	go func() {
		log.Printf("Master listening on %s (sync path %s)", listenAddr, wsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Master server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down master...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func runSatellite(ctx context.Context, store sync.Store, hardwareID, token, mdnsType, wsPath string) {
	discovered, err := sync.Discover(ctx, mdnsType, 5*time.Second)
	if err != nil {
		log.Fatalf("Failed to discover a master on the LAN: %v", err)
	}

	satellite := sync.NewSatellite(store, hardwareID, token, []models.SyncEntityKind{
		models.SyncKindProduct,
		models.SyncKindCustomer,
		models.SyncKindCategory,
		models.SyncKindSupplier,
		models.SyncKindServiceOrder,
		models.SyncKindSetting,
	}, 5*time.Second)

	masterAddr := fmt.Sprintf("%s:%d", discovered.Host, discovered.Port)
	log.Printf("Satellite syncing against master at %s", masterAddr)
	satellite.Run(ctx, masterAddr, wsPath)
}

// licenseAuthenticator trusts a connecting satellite that presents this
// terminal's own license key and a non-empty hardware ID: every machine in
// a fleet shares one license, bound to many hardware IDs (spec.md §4.3).
type licenseAuthenticator struct {
	manager *license.Manager
}

func (a licenseAuthenticator) Authenticate(ctx context.Context, token, hardwareID string) error {
	if hardwareID == "" {
		return errors.New("missing hardware_id")
	}
	lic := a.manager.GetLicense()
	if lic == nil || !a.manager.IsValid() {
		return errors.New("master has no valid license")
	}
	if token != lic.ID {
		return errors.New("license key mismatch")
	}
	return nil
}

func portFromAddr(addr string) int {
	var port int
	if _, err := fmt.Sscanf(addr, ":%d", &port); err != nil {
		return 7700
	}
	return port
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
