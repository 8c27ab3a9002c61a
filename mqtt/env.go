// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"os"
	"strconv"
	"strings"
)

type connectionProviderBuilder struct {
	hostname string
	port     uint16
	useTLS   bool
	caFile   string
	certFile string
	keyFile  string
	insecure bool
}

// SessionClientConfigFromEnv parses a session client configuration from the
// MQTT_* environment variables. It only fails when a variable is malformed;
// a missing hostname yields a nil connection provider so that the caller can
// supply the connection some other way.
func SessionClientConfigFromEnv() (ConnectionProvider, *SessionClientOptions, error) {
	opts := &SessionClientOptions{}
	conn := connectionProviderBuilder{}

	for _, env := range os.Environ() {
		key, val, _ := strings.Cut(env, "=")
		switch key {
		case "MQTT_BROKER_HOSTNAME":
			conn.hostname = val

		case "MQTT_BROKER_PORT":
			port, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return nil, nil, &InvalidArgumentError{
					message: "could not parse broker port",
					wrapped: err,
				}
			}
			conn.port = uint16(port)

		case "MQTT_USE_TLS":
			useTLS, err := strconv.ParseBool(val)
			if err != nil {
				return nil, nil, &InvalidArgumentError{
					message: "could not parse MQTT use TLS",
					wrapped: err,
				}
			}
			conn.useTLS = useTLS

		case "MQTT_TLS_INSECURE":
			insecure, err := strconv.ParseBool(val)
			if err != nil {
				return nil, nil, &InvalidArgumentError{
					message: "could not parse MQTT TLS insecure",
					wrapped: err,
				}
			}
			conn.insecure = insecure

		case "MQTT_KEEP_ALIVE":
			keepAlive, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return nil, nil, &InvalidArgumentError{
					message: "could not parse MQTT keep-alive",
					wrapped: err,
				}
			}
			opts.KeepAlive = uint16(keepAlive)

		case "MQTT_CLIENT_ID":
			opts.ClientID = val

		case "MQTT_USERNAME":
			opts.Username = val

		case "MQTT_PASSWORD_FILE":
			opts.Password = FilePassword(val)

		case "MQTT_TLS_CA_FILE":
			conn.caFile = val

		case "MQTT_TLS_CERT_FILE":
			conn.certFile = val

		case "MQTT_TLS_KEY_FILE":
			conn.keyFile = val
		}
	}

	connectionProvider, err := conn.build()
	if err != nil {
		return nil, nil, err
	}
	return connectionProvider, opts, nil
}

// NewSessionClientFromEnv is a shorthand for constructing a session client
// using SessionClientConfigFromEnv.
func NewSessionClientFromEnv(
	opt ...SessionClientOption,
) (*SessionClient, error) {
	connectionProvider, opts, err := SessionClientConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if connectionProvider == nil {
		return nil, &InvalidArgumentError{
			message: "connection must be configured",
		}
	}
	return NewSessionClient(connectionProvider, opts, withOptions(opt)), nil
}

// BrokerConnection is the connection provider used by both the environment
// and file configuration paths.
func BrokerConnection(
	hostname string,
	port uint16,
	useTLS bool,
	caFile, certFile, keyFile string,
	insecure bool,
) (ConnectionProvider, error) {
	b := connectionProviderBuilder{
		hostname: hostname,
		port:     port,
		useTLS:   useTLS,
		caFile:   caFile,
		certFile: certFile,
		keyFile:  keyFile,
		insecure: insecure,
	}
	cp, err := b.build()
	if err == nil && cp == nil {
		err = &InvalidArgumentError{message: "broker hostname is required"}
	}
	return cp, err
}

func (b *connectionProviderBuilder) build() (ConnectionProvider, error) {
	if b.hostname == "" {
		if b.port != 0 || b.useTLS || b.hasTLS() {
			return nil, &InvalidArgumentError{
				message: "connection configuration provided without hostname",
			}
		}
		return nil, nil
	}

	if !b.useTLS {
		if b.hasTLS() {
			return nil, &InvalidArgumentError{
				message: "TLS configuration provided but not using TLS",
			}
		}
		if b.port == 0 {
			b.port = 1883
		}
		return TCPConnection(b.hostname, b.port), nil
	}

	if b.port == 0 {
		b.port = 8883
	}

	if (b.certFile != "") != (b.keyFile != "") {
		return nil, &InvalidArgumentError{
			message: "certificate file and key file must be provided together",
		}
	}

	var tlsOpts []TLSOption
	if b.insecure {
		tlsOpts = append(tlsOpts, WithInsecureSkipVerify())
	}
	if b.certFile != "" {
		tlsOpts = append(tlsOpts, WithX509(b.certFile, b.keyFile))
	}
	if b.caFile != "" {
		tlsOpts = append(tlsOpts, WithCA(b.caFile))
	}

	return TLSConnection(b.hostname, b.port, tlsOpts...), nil
}

func (b *connectionProviderBuilder) hasTLS() bool {
	return b.caFile != "" || b.certFile != "" || b.keyFile != "" || b.insecure
}
