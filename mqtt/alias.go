// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "github.com/eva00212/jetson/protocol/mqtt"

// The session client implements the shared MQTT interface; its types are
// aliased here for convenience.
type (
	Message        = mqtt.Message
	MessageHandler = mqtt.MessageHandler
	Subscription   = mqtt.Subscription

	SubscribeOptions   = mqtt.SubscribeOptions
	SubscribeOption    = mqtt.SubscribeOption
	UnsubscribeOptions = mqtt.UnsubscribeOptions
	UnsubscribeOption  = mqtt.UnsubscribeOption
	PublishOptions     = mqtt.PublishOptions
	PublishOption      = mqtt.PublishOption

	WithContentType     = mqtt.WithContentType
	WithMessageExpiry   = mqtt.WithMessageExpiry
	WithNoLocal         = mqtt.WithNoLocal
	WithPayloadFormat   = mqtt.WithPayloadFormat
	WithQoS             = mqtt.WithQoS
	WithRetain          = mqtt.WithRetain
	WithRetainHandling  = mqtt.WithRetainHandling
	WithUserProperties  = mqtt.WithUserProperties
)
