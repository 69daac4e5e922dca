//go:build integration

package amqpclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/datacollector/broker"
)

var rabbitURL string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start RabbitMQ container: %v\n", err)
		os.Exit(1)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5672")
	rabbitURL = fmt.Sprintf("amqp://guest:guest@%s:%s", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func dialTest(t *testing.T) *Client {
	t.Helper()
	u, err := url.Parse(rabbitURL)
	require.NoError(t, err)
	b, err := Dial(context.Background(), broker.ParseEndpoint(u, 0), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b.(*Client)
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	c := dialTest(t)
	ctx := context.Background()

	received := make(chan string, 1)
	sub, err := c.Subscribe(ctx, "datacollector.test", func(_ context.Context, body []byte) {
		received <- string(body)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, c.Publish(ctx, "datacollector.test", []byte(`{"n":1}`)))

	select {
	case body := <-received:
		assert.JSONEq(t, `{"n":1}`, body)
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_RequestReply(t *testing.T) {
	c := dialTest(t)
	ctx := context.Background()

	sub, err := c.Respond(ctx, "math", "double", func(_ context.Context, body []byte) []byte {
		return append([]byte("re:"), body...)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	reply, err := c.Request(reqCtx, "math", "double", []byte("2"))
	require.NoError(t, err)
	assert.Equal(t, "re:2", string(reply))
}

func TestIntegration_RequestTimesOutWithoutResponder(t *testing.T) {
	c := dialTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// The responder replies after the caller gave up.
	sub, err := c.Respond(context.Background(), "silent", "void", func(_ context.Context, _ []byte) []byte {
		time.Sleep(time.Second)
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = c.Request(ctx, "silent", "void", []byte("ping"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
