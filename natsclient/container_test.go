//go:build integration

package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const natsImage = "nats:2.11.7-alpine"

// startNATS runs a NATS server for the test and returns its URL. jetstream
// enables durable consumers.
func startNATS(t *testing.T, jetstream bool) string {
	t.Helper()
	ctx := context.Background()

	args := []string{"--port", "4222", "--http_port", "8222"}
	if jetstream {
		args = append(args, "--js")
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        natsImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          args,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start NATS container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

// connectTest returns a connected client closed by t.Cleanup.
func connectTest(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(url,
		WithTimeout(5*time.Second),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}
