// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package db implements generic connection to MongoDB for the donor and
// recipient sides of a tenant migration.
package db

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/mongodb/mongo-tenant-tools/common/util"
	"github.com/youmark/pkcs8"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.mongodb.org/mongo-driver/tag"
)

// MongoDB enforced limits.
const (
	MaxBSONSize = 16 * 1024 * 1024 // 16MB - maximum BSON document size
)

// Default port for integration tests
const (
	DefaultTestPort = "33333"
)

// SessionProvider manages the client used to talk to one deployment.
type SessionProvider struct {
	sync.Mutex

	client *mongo.Client
}

// GetSession returns a mongo.Client connected to the database server for
// which the session provider is configured.
func (sp *SessionProvider) GetSession() (*mongo.Client, error) {
	sp.Lock()
	defer sp.Unlock()

	if sp.client == nil {
		return nil, errors.New("SessionProvider already closed")
	}

	return sp.client, nil
}

// Close disconnects the underlying client.
func (sp *SessionProvider) Close() {
	sp.Lock()
	defer sp.Unlock()
	if sp.client != nil {
		_ = sp.client.Disconnect(context.Background())
		sp.client = nil
	}
}

// DB provides a database with the default read preference
func (sp *SessionProvider) DB(name string) *mongo.Database {
	return sp.client.Database(name)
}

// NewSessionProvider constructs a session provider, including a connected
// and pinged client.
func NewSessionProvider(opts options.ToolOptions) (*SessionProvider, error) {
	clientopt, err := configureClient(opts)
	if err != nil {
		return nil, fmt.Errorf("error configuring the connector: %v", err)
	}
	client, err := mongo.Connect(context.Background(), clientopt)
	if err != nil {
		return nil, err
	}
	err = client.Ping(context.Background(), nil)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("could not connect to server: %v", err)
	}
	log.Logvf(log.DebugLow, "connected to %v", util.SanitizeURI(opts.URI.ConnectionString))

	return &SessionProvider{client: client}, nil
}

// addClientCertFromFile adds a client certificate to the configuration given
// a path to the containing file and returns the certificate's subject name.
func addClientCertFromFile(cfg *tls.Config, clientFile, keyPassword string) (string, error) {
	data, err := os.ReadFile(clientFile)
	if err != nil {
		return "", err
	}

	return addClientCertFromBytes(cfg, data, keyPassword)
}

// addClientCertFromBytes adds a client certificate to the configuration and
// returns the certificate's subject name. Encrypted private keys are
// decrypted with keyPasswd.
func addClientCertFromBytes(cfg *tls.Config, data []byte, keyPasswd string) (string, error) {
	var currentBlock *pem.Block
	var certBlock, certDecodedBlock, keyBlock []byte

	remaining := data
	start := 0
	for {
		currentBlock, remaining = pem.Decode(remaining)
		if currentBlock == nil {
			break
		}

		if currentBlock.Type == "CERTIFICATE" {
			certBlock = data[start : len(data)-len(remaining)]
			certDecodedBlock = currentBlock.Bytes
			start += len(certBlock)
			continue
		}
		if !strings.HasSuffix(currentBlock.Type, "PRIVATE KEY") {
			continue
		}

		if !strings.Contains(currentBlock.Type, "ENCRYPTED") {
			keyBlock = data[start : len(data)-len(remaining)]
			start += len(keyBlock)
			continue
		}

		if keyPasswd == "" {
			return "", fmt.Errorf("no password provided to decrypt private key")
		}
		// The pkcs8 package only handles the PKCS #5 v2.0 scheme.
		decrypted, err := pkcs8.ParsePKCS8PrivateKey(currentBlock.Bytes, []byte(keyPasswd))
		if err != nil {
			return "", err
		}
		keyBytes, err := x509.MarshalPKCS8PrivateKey(decrypted)
		if err != nil {
			return "", err
		}

		var encoded bytes.Buffer
		if err := pem.Encode(&encoded, &pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}); err != nil {
			return "", err
		}
		keyBlock = encoded.Bytes()
		start = len(data) - len(remaining)
	}

	if len(certBlock) == 0 {
		return "", fmt.Errorf("failed to find CERTIFICATE")
	}
	if len(keyBlock) == 0 {
		return "", fmt.Errorf("failed to find PRIVATE KEY")
	}

	cert, err := tls.X509KeyPair(certBlock, keyBlock)
	if err != nil {
		return "", err
	}

	cfg.Certificates = append(cfg.Certificates, cert)

	// tls.X509KeyPair does not retain the leaf certificate.
	crt, err := x509.ParseCertificate(certDecodedBlock)
	if err != nil {
		return "", err
	}

	return crt.Subject.String(), nil
}

// create a username for x509 authentication from an x509 certificate subject.
func extractX509UsernameFromSubject(subject string) string {
	// the Go x509 package gives the subject with the pairs in the reverse order from what we want.
	pairs := strings.Split(subject, ",")
	for left, right := 0, len(pairs)-1; left < right; left, right = left+1, right-1 {
		pairs[left], pairs[right] = pairs[right], pairs[left]
	}

	return strings.Join(pairs, ",")
}

// addCACertsFromFile adds the root CA certificate and all the intermediate
// certificates in the same file to the configuration.
func addCACertsFromFile(cfg *tls.Config, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	if cfg.RootCAs == nil {
		cfg.RootCAs = x509.NewCertPool()
	}

	if !cfg.RootCAs.AppendCertsFromPEM(data) {
		return fmt.Errorf("SSL trusted server certificates file does not contain any valid certificates. File: `%v`", file)
	}
	return nil
}

// configureClient builds client options from the uri and the provided
// ToolOptions, with ToolOptions having precedence.
func configureClient(opts options.ToolOptions) (*mopt.ClientOptions, error) {
	if opts.URI == nil || opts.URI.ConnectionString == "" {
		if err := opts.NormalizeOptionsAndURI(); err != nil {
			return nil, err
		}
	}

	clientopt := mopt.Client()
	cs := opts.URI.ConnString

	clientopt.Hosts = cs.Hosts

	if opts.RetryWrites != nil {
		clientopt.SetRetryWrites(*opts.RetryWrites)
	}

	if opts.Connection != nil {
		clientopt.SetConnectTimeout(time.Duration(opts.Timeout) * time.Second)
		clientopt.SetSocketTimeout(time.Duration(opts.SocketTimeout) * time.Second)
		if opts.Connection.ServerSelectionTimeout > 0 {
			clientopt.SetServerSelectionTimeout(time.Duration(opts.Connection.ServerSelectionTimeout) * time.Second)
		}
		if opts.Compressors != "" && opts.Compressors != "none" {
			clientopt.SetCompressors(strings.Split(opts.Compressors, ","))
		}
	}
	if opts.ReplicaSetName != "" {
		clientopt.SetReplicaSet(opts.ReplicaSetName)
	}

	clientopt.SetAppName(opts.AppName)
	if opts.Direct && len(clientopt.Hosts) == 1 {
		clientopt.SetDirect(true)
	}

	// Migration reads and writes are majority unless the URI says otherwise.
	clientopt.SetWriteConcern(writeconcern.Majority())

	if cs.LoadBalancedSet {
		clientopt.SetLoadBalanced(cs.LoadBalanced)
	}
	if cs.MaxPoolSizeSet {
		clientopt.SetMaxPoolSize(cs.MaxPoolSize)
	}
	if cs.ReadConcernLevel != "" {
		clientopt.SetReadConcern(&readconcern.ReadConcern{Level: cs.ReadConcernLevel})
	}

	if cs.ReadPreference != "" || len(cs.ReadPreferenceTagSets) > 0 || cs.MaxStalenessSet {
		readPrefOpts := make([]readpref.Option, 0, 1)

		tagSets := tag.NewTagSetsFromMaps(cs.ReadPreferenceTagSets)
		if len(tagSets) > 0 {
			readPrefOpts = append(readPrefOpts, readpref.WithTagSets(tagSets...))
		}

		if cs.MaxStaleness != 0 {
			readPrefOpts = append(readPrefOpts, readpref.WithMaxStaleness(cs.MaxStaleness))
		}

		mode, err := readpref.ModeFromString(cs.ReadPreference)
		if err != nil {
			return nil, err
		}

		readPref, err := readpref.New(mode, readPrefOpts...)
		if err != nil {
			return nil, err
		}

		clientopt.SetReadPreference(readPref)
	}

	if cs.RetryReadsSet {
		clientopt.SetRetryReads(cs.RetryReads)
	}

	if cs.JSet || cs.WString != "" || cs.WNumberSet || cs.WTimeoutSet {
		wc, err := NewMongoWriteConcern("", &cs)
		if err != nil {
			return nil, err
		}
		clientopt.SetWriteConcern(wc)
	}

	if opts.Auth != nil && (opts.Auth.Username != "" || opts.Auth.Mechanism != "") {
		cred := mopt.Credential{
			Username:                opts.Auth.Username,
			Password:                opts.Auth.Password,
			AuthSource:              opts.Auth.Source,
			AuthMechanism:           opts.Auth.Mechanism,
			AuthMechanismProperties: cs.AuthMechanismProperties,
		}
		// Technically, an empty password is possible, but the tools don't have the
		// means to easily distinguish and so require a non-empty password.
		if cred.Password != "" {
			cred.PasswordSet = true
		}
		clientopt.SetAuth(cred)
	}

	if opts.SSL != nil && opts.UseSSL {
		tlsConfig := &tls.Config{}
		if opts.TLSInsecure {
			tlsConfig.InsecureSkipVerify = true
		}

		var x509Subject string
		var err error
		keyPasswd := opts.SSL.SSLPEMKeyPassword
		if cs.SSLClientCertificateKeyPasswordSet && cs.SSLClientCertificateKeyPassword != nil {
			keyPasswd = cs.SSLClientCertificateKeyPassword()
		}
		if opts.SSLPEMKeyFile != "" {
			x509Subject, err = addClientCertFromFile(tlsConfig, opts.SSLPEMKeyFile, keyPasswd)
			if err != nil {
				return nil, fmt.Errorf("error configuring client, can't load client certificate: %v", err)
			}
		}
		if opts.SSLCAFile != "" {
			if err := addCACertsFromFile(tlsConfig, opts.SSLCAFile); err != nil {
				return nil, fmt.Errorf("error configuring client, can't load CA file: %v", err)
			}
		}

		// If a username wasn't specified for x509, add one from the certificate.
		if clientopt.Auth != nil && strings.ToLower(clientopt.Auth.AuthMechanism) == "mongodb-x509" && clientopt.Auth.Username == "" {
			clientopt.Auth.Username = extractX509UsernameFromSubject(x509Subject)
		}

		clientopt.SetTLSConfig(tlsConfig)
	}

	return clientopt, nil
}
