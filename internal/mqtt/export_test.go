package mqtt

import pahomqtt "github.com/eclipse/paho.mqtt.golang"

// SetNewClient swaps the client constructor used by Connect and returns a
// func restoring the original.
func SetNewClient(fn func(*pahomqtt.ClientOptions) pahomqtt.Client) func() {
	orig := newClient
	newClient = fn
	return func() { newClient = orig }
}
