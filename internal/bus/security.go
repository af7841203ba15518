package bus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KafClaw/agentcore/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// KafkaSecurity describes how to authenticate to the brokers. The zero
// value is a plaintext connection.
type KafkaSecurity struct {
	// Protocol is PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL.
	Protocol string
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string
	Username  string
	Password  string
	CAFile    string
	CertFile  string
	KeyFile   string
}

// SecurityFromConfig reads the kafka security settings of the events config.
func SecurityFromConfig(e config.EventsConfig) KafkaSecurity {
	return KafkaSecurity{
		Protocol:  e.KafkaSecurityProtocol,
		Mechanism: e.KafkaSASLMechanism,
		Username:  e.KafkaUsername,
		Password:  e.KafkaPassword,
		CAFile:    e.KafkaCAFile,
		CertFile:  e.KafkaCertFile,
		KeyFile:   e.KafkaKeyFile,
	}
}

func (s KafkaSecurity) protocol() string {
	p := strings.ToUpper(strings.TrimSpace(s.Protocol))
	if p == "" {
		return "PLAINTEXT"
	}
	return p
}

// TLSConfig returns nil when the protocol does not use TLS.
func (s KafkaSecurity) TLSConfig(serverName string) (*tls.Config, error) {
	switch s.protocol() {
	case "SSL", "SASL_SSL":
	case "PLAINTEXT", "SASL_PLAINTEXT":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported security protocol %q", s.Protocol)
	}

	conf := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	if s.CAFile != "" {
		pem, err := os.ReadFile(s.CAFile)
		if err != nil {
			return nil, fmt.Errorf("load CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("bad CA PEM")
		}
		conf.RootCAs = pool
	}
	if s.CertFile != "" && s.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}

// SASLMechanism returns nil when no SASL is configured.
func (s KafkaSecurity) SASLMechanism() (sasl.Mechanism, error) {
	mech := strings.ToUpper(strings.TrimSpace(s.Mechanism))
	switch mech {
	case "PLAIN":
		return plain.Mechanism{Username: s.Username, Password: s.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, s.Username, s.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, s.Username, s.Password)
	case "":
		if strings.HasPrefix(s.protocol(), "SASL_") {
			return nil, fmt.Errorf("missing sasl mechanism for security protocol %s", s.protocol())
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism %q", s.Mechanism)
	}
}

// Transport builds a writer transport with TLS and SASL applied.
func (s KafkaSecurity) Transport(timeout time.Duration) (*kafka.Transport, error) {
	tlsConf, err := s.TLSConfig("")
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	mech, err := s.SASLMechanism()
	if err != nil {
		return nil, fmt.Errorf("sasl config: %w", err)
	}
	return &kafka.Transport{TLS: tlsConf, SASL: mech, DialTimeout: timeout}, nil
}

// Dialer builds a connection dialer with TLS and SASL applied.
func (s KafkaSecurity) Dialer(serverName string, timeout time.Duration) (*kafka.Dialer, error) {
	tlsConf, err := s.TLSConfig(serverName)
	if err != nil {
		return nil, err
	}
	mech, err := s.SASLMechanism()
	if err != nil {
		return nil, err
	}
	return &kafka.Dialer{Timeout: timeout, DualStack: true, TLS: tlsConf, SASLMechanism: mech}, nil
}

// ProbeKafka connects to the first reachable broker and reads the topic's
// partitions. A topic that does not exist yet is reported as zero
// partitions, since the sink creates it on first write.
func ProbeKafka(ctx context.Context, brokers, topic string, sec KafkaSecurity, timeout time.Duration) (int, error) {
	var lastErr error
	for _, addr := range splitBrokers(brokers) {
		host := addr
		if i := strings.LastIndex(addr, ":"); i > 0 {
			host = addr[:i]
		}
		d, err := sec.Dialer(host, timeout)
		if err != nil {
			return 0, err
		}
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", addr, err)
			continue
		}
		_ = conn.SetDeadline(time.Now().Add(timeout))
		parts, err := conn.ReadPartitions(topic)
		conn.Close()
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read partitions of %s: %w", topic, err)
		}
		return len(parts), nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return 0, lastErr
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
