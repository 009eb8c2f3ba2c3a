package types

// PubSubMessage is the payload of a Pub/Sub event delivered via Cloud
// Event. DeliveryAttempt is populated when the subscription has a
// dead-letter policy configured.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
	DeliveryAttempt *int `json:"deliveryAttempt,omitempty"`
}
