package mqtt_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/control"
	"codeberg.org/mutker/climactl/internal/device"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
	"codeberg.org/mutker/climactl/internal/mqtt"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { <-t.done; return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	publishErr   error
	messages     []message
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic, qos, retained, payload.([]byte)})
	return newToken(c.publishErr)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) published() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.messages...)
}

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newPublisher(client mqtt.Client) *mqtt.Publisher {
	return mqtt.NewPublisher(client, mqtt.Config{TopicPrefix: "tent", QoS: 1, Retained: true}, logger.Nop())
}

func decode(t *testing.T, m message) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(m.Payload, &out))
	return out
}

func TestPublishStatus(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client)

	r := climate.Reading{Temperature: 25, Humidity: 45, Light: 500}
	p.OnStatus(control.Status{
		Time:            now,
		Tick:            3,
		Settings:        climate.DefaultSettings(),
		Sensed:          true,
		Reading:         r,
		Commands:        climate.Commands{Humidifier: true, Light: true},
		TemperatureText: climate.FormatTemperature(r),
		HumidityText:    climate.FormatHumidity(r),
		LightText:       climate.FormatLight(r),
	})

	msgs := client.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tent/status", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.True(t, msgs[0].Retained)

	body := decode(t, msgs[0])
	assert.Equal(t, float64(3), body["tick"])
	assert.Equal(t, true, body["sensed"])
	assert.Equal(t, false, body["degraded"])
	assert.Equal(t, map[string]interface{}{"temperature": float64(25), "humidity": float64(45), "light": float64(500)}, body["reading"])
	assert.Equal(t, map[string]interface{}{
		"exhaust": false, "intake": false, "humidifier": true, "light": true, "rain": false,
	}, body["commands"])
	assert.Equal(t, []interface{}{"Temperature: 25°C", "Humidity: 45%", "Light: 500 lux"}, body["text"])
	assert.Equal(t, map[string]interface{}{"light_intensity": float64(100), "target_humidity": float64(50)}, body["settings"])
}

func TestPublishUnsensedStatusOmitsReading(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client)

	fault := errors.New().Wrap(errors.ErrSensorFault, stderrors.New("i2c timeout"))
	p.OnStatus(control.Status{Time: now, Tick: 1, Degraded: true, Faults: []errors.Error{fault}})

	body := decode(t, client.published()[0])
	assert.NotContains(t, body, "reading")
	assert.NotContains(t, body, "commands")
	assert.NotContains(t, body, "text")

	faults, ok := body["faults"].([]interface{})
	require.True(t, ok)
	require.Len(t, faults, 1)
	assert.Equal(t, "sensor_fault", faults[0].(map[string]interface{})["code"])
}

func TestPublishAlertAndFault(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client)

	p.OnStatus(control.Status{Time: now, Sensed: true})
	p.OnAlert(climate.CheckAlerts(climate.Reading{Temperature: 36, Humidity: 50})[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := device.NewMemoryActuators(logger.Nop()).SetState(ctx, climate.Rain, true)
	fault, ok := err.(errors.Error)
	require.True(t, ok)
	p.OnFault(fault)

	msgs := client.published()
	require.Len(t, msgs, 3)

	assert.Equal(t, "tent/alerts", msgs[1].Topic)
	alert := decode(t, msgs[1])
	assert.Equal(t, "temperature_out_of_range", alert["kind"])
	assert.Equal(t, float64(36), alert["value"])
	assert.Equal(t, "temperature out of range (36°C)", alert["message"])
	assert.Equal(t, now.Format(time.RFC3339), alert["time"])

	assert.Equal(t, "tent/faults", msgs[2].Topic)
	body := decode(t, msgs[2])
	assert.Equal(t, string(errors.ErrActuatorFault), body["code"])
	assert.Equal(t, "rain", body["actuator"])
}

func TestPublishWhileDisconnectedIsDropped(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client)

	p.OnStatus(control.Status{Time: now})
	p.OnAlert(climate.Alert{Kind: climate.HumidityOutOfRange, Value: 90})

	assert.Empty(t, client.published())
	assert.Equal(t, uint64(2), p.Dropped())
}

func TestPublishFailureIsCounted(t *testing.T) {
	client := &fakeClient{connected: true, publishErr: stderrors.New("broker rejected")}
	p := newPublisher(client)

	p.OnStatus(control.Status{Time: now})
	require.True(t, p.Flush(time.Second))
	assert.Equal(t, uint64(1), p.Failed())
}

func TestTopicWithoutPrefix(t *testing.T) {
	p := mqtt.NewPublisher(&fakeClient{}, mqtt.Config{}, logger.Nop())
	assert.Equal(t, "status", p.Topic(mqtt.StatusTopic))
}

func TestCloseDisconnectsOnce(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client)

	p.Close()
	assert.True(t, client.disconnected)

	p.OnStatus(control.Status{Time: now})
	assert.Empty(t, client.published())
	p.Close()
}

func TestConnectRequiresBroker(t *testing.T) {
	_, err := mqtt.Connect(context.Background(), mqtt.Config{}, logger.Nop())
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidConfig, errors.CodeOf(err))
}

func TestConnectGivesUpAfterRetries(t *testing.T) {
	cfg := mqtt.Config{
		BrokerURL:     "tcp://127.0.0.1:1",
		ClientID:      "climactl-test",
		MaxRetries:    2,
		RetryInterval: 50 * time.Millisecond,
	}

	_, err := mqtt.Connect(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
	assert.Equal(t, errors.ErrUnavailable, errors.CodeOf(err))
}

// dialClient fails every connect. Methods Connect does not call are left to
// the nil embedded interface.
type dialClient struct {
	pahomqtt.Client
	mu           *sync.Mutex
	disconnected *int
}

func (c dialClient) Connect() pahomqtt.Token {
	return newToken(stderrors.New("connection refused"))
}

func (c dialClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.disconnected++
}

func TestConnectReleasesFailedClients(t *testing.T) {
	var (
		mu           sync.Mutex
		created      int
		disconnected int
	)
	restore := mqtt.SetNewClient(func(*pahomqtt.ClientOptions) pahomqtt.Client {
		mu.Lock()
		created++
		mu.Unlock()
		return dialClient{mu: &mu, disconnected: &disconnected}
	})
	t.Cleanup(restore)

	cfg := mqtt.Config{BrokerURL: "tcp://broker:1883", MaxRetries: 3, RetryInterval: time.Millisecond}
	_, err := mqtt.Connect(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
	assert.Equal(t, errors.ErrUnavailable, errors.CodeOf(err))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, created)
	assert.Equal(t, created, disconnected, "every failed client is disconnected")
}

func TestCloseRacingPublishes(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				p.OnStatus(control.Status{Time: now})
			}
		}()
	}

	close(start)
	p.Close()
	sent := len(client.published())
	wg.Wait()

	assert.Equal(t, sent, len(client.published()), "published after Close")
}
