// Package database archives location fixes in MongoDB.
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/config"
	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// connectionURI builds the server URI, escaping credentials.
func connectionURI(cfg config.ArchiveConfig) string {
	if cfg.URI != "" {
		return cfg.URI
	}
	if cfg.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", cfg.Host, cfg.Port)
	}
	encodedUser := url.QueryEscape(cfg.Username)
	encodedPass := url.QueryEscape(cfg.Password)
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		encodedUser, encodedPass,
		cfg.Host,
		cfg.Port,
	)
}

func clientOptions(cfg config.ArchiveConfig, appName string) *options.ClientOptions {
	clientOptions := options.Client().ApplyURI(connectionURI(cfg)).SetAppName(appName)
	if cfg.MinPoolSize > 0 {
		clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.ConnectIdleTimeout > 0 {
		clientOptions.SetMaxConnIdleTime(cfg.ConnectIdleTimeout)
	}
	if cfg.ConnectTimeout > 0 {
		clientOptions.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.SocketTimeout > 0 {
		clientOptions.SetSocketTimeout(cfg.SocketTimeout)
	}
	if cfg.Heartbeat > 0 {
		clientOptions.SetHeartbeatInterval(cfg.Heartbeat)
	}
	if cfg.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s #%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s #%d (%s)", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})
	return clientOptions
}

// indexModels returns the lookup index and, when retention is set, the TTL
// index that expires old fixes.
func indexModels(retention string) ([]mongo.IndexModel, error) {
	models := []mongo.IndexModel{{
		Keys:    bson.D{{Key: "device_id", Value: 1}, {Key: "ts", Value: 1}},
		Options: options.Index().SetName("fixes_device_ts"),
	}}
	if retention == "" {
		return models, nil
	}
	ttl, err := utils.ParseStringTime(retention)
	if err != nil {
		return nil, fmt.Errorf("archive retention: %w", err)
	}
	if ttl <= 0 {
		return models, nil
	}
	models = append(models, mongo.IndexModel{
		Keys:    bson.D{{Key: "received_at", Value: 1}},
		Options: options.Index().SetName("fixes_ttl").SetExpireAfterSeconds(int32(ttl / time.Second)),
	})
	return models, nil
}

// Connect opens the MongoDB client, verifies it with a ping and prepares the
// fix collection.
func Connect(ctx context.Context, cfg config.ArchiveConfig, appName string) (*Archive, error) {
	logger.DebugF("Connecting to database...")
	models, err := indexModels(cfg.Retention)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions(cfg, appName))
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}

	if err = client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	collection := client.Database(cfg.Database).Collection(cfg.Collection)
	if _, err = collection.Indexes().CreateMany(connectCtx, models); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error occured while creating database indexes: %w", err)
	}

	logger.InfoF("Fix archive connected, storing into %s.%s", cfg.Database, cfg.Collection)
	return newArchive(&mongoCollection{collection: collection}, cfg, client.Disconnect), nil
}

type mongoCollection struct {
	collection *mongo.Collection
}

func (m *mongoCollection) InsertMany(ctx context.Context, docs []interface{}) error {
	_, err := m.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}
