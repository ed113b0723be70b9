// Command client probes the server's gRPC health service. It exits non-zero
// unless the service reports SERVING, so it can back container health
// checks.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"cyclecal/internal/server"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	addr    string
	service string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "cyclecal-probe",
	Short: "Check the gRPC health of a cyclecal server",
	Run: func(cmd *cobra.Command, args []string) {
		if !probe() {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", envOr("GRPC_SERVER_URL", "localhost:8080"), "server address (h2c)")
	rootCmd.Flags().StringVar(&service, "service", server.ServiceName, "service name to check, empty for overall health")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "probe timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute probe: %v", err)
	}
}

func probe() bool {
	// Plaintext since the server speaks h2c
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to dial server: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		log.Printf("Health check failed: %v", err)
		return false
	}

	log.Printf("%s: %s", addr, resp.GetStatus())
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
