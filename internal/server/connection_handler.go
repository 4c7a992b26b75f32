package server

import (
	"errors"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/broker"
	"github.com/life-stream-dev/pitstopper/internal/connection"
	"github.com/life-stream-dev/pitstopper/internal/logger"
	"github.com/life-stream-dev/pitstopper/internal/mqtt"
	pa "github.com/life-stream-dev/pitstopper/internal/packet"
	"github.com/life-stream-dev/pitstopper/internal/session"
)

type ConnectionHandler struct {
	server    *Server
	conn      *connection.Connection
	sess      *session.Session
	keepAlive time.Duration
}

// readTimeout is one and a half keep alive periods; zero disables it.
func readTimeout(keepAlive time.Duration) time.Duration {
	return keepAlive + keepAlive/2
}

func (c *ConnectionHandler) handleFirstPacket() error {
	connID := c.conn.ConnID
	packet, err := c.conn.ReadPacket(c.server.cfg.MaxPacketSize, c.server.cfg.ConnectTimeout)
	if err != nil {
		logger.WarnF("[%s] Fail to read first packet, details: %v", connID, err)
		return err
	}

	if packet.Header.Type != mqtt.CONNECT {
		logger.ErrorF("[%s] Invalid first packet type, expected %s packet, but got %s packet", connID, mqtt.CONNECT, packet.Header.Type)
		return mqtt.ErrProtocolViolation
	}

	connect, code, err := pa.ParseConnectPacket(packet)
	if err != nil {
		if code != pa.Accepted {
			_ = c.conn.Send(pa.NewConnectAckPacket(false, code))
		}
		logger.ErrorF("[%s] Fail to parse CONNECT packet, details: %v", connID, err)
		return err
	}

	sess, err := c.server.broker.Connect(broker.ConnectRequest{
		ClientID:     connect.ClientID,
		CleanSession: connect.ConnectFlag.CleanSession,
		KeepAlive:    connect.KeepAlive,
		Will:         connect.Will,
		Transport:    c.conn,
	})
	if err != nil {
		return err
	}
	c.sess = sess
	c.keepAlive = connect.KeepAlive
	if c.keepAlive == 0 {
		logger.DebugF("[%s] Keep alive set to 0, heartbeat disable", sess.ClientID)
	}
	return nil
}

// handlePacket serves the session until it ends and reports why and
// whether the client left cleanly.
func (c *ConnectionHandler) handlePacket() (string, bool) {
	clientID := c.sess.ClientID
	for {
		packet, err := c.conn.ReadPacket(c.server.cfg.MaxPacketSize, readTimeout(c.keepAlive))
		if err != nil {
			if c.server.closing.Load() {
				return "server shutting down", true
			}
			connection.HandleReadError(clientID, err)
			return "connection lost", false
		}
		if c.sess.State() != session.Connected {
			return "session taken over", true
		}

		logger.DebugF("[%s] Receive %s package, %d bytes", clientID, packet.Header.Type, packet.Header.RemainingLength)

		if err := c.dispatch(packet); err != nil {
			if errors.Is(err, errClientDisconnect) {
				return "client disconnect", true
			}
			logger.ErrorF("[%s] Fail to handle %s packet, details: %v", clientID, packet.Header.Type, err)
			return err.Error(), false
		}
	}
}

var errClientDisconnect = errors.New("client disconnect")

func (c *ConnectionHandler) dispatch(packet *mqtt.Packet) error {
	b := c.server.broker
	switch packet.Header.Type {
	case mqtt.PUBLISH:
		msg, err := pa.ParsePublishPacket(packet)
		if err != nil {
			return err
		}
		return b.HandlePublish(c.sess, msg)
	case mqtt.PUBACK, mqtt.PUBREC, mqtt.PUBREL, mqtt.PUBCOMP:
		id, err := pa.ParseAckPacket(packet)
		if err != nil {
			return err
		}
		switch packet.Header.Type {
		case mqtt.PUBACK:
			b.HandlePubAck(c.sess, id)
		case mqtt.PUBREC:
			return b.HandlePubRec(c.sess, id)
		case mqtt.PUBREL:
			return b.HandlePubRel(c.sess, id)
		case mqtt.PUBCOMP:
			b.HandlePubComp(c.sess, id)
		}
		return nil
	case mqtt.SUBSCRIBE:
		sub, err := pa.ParseSubscribePacket(packet)
		if err != nil {
			return err
		}
		return b.HandleSubscribe(c.sess, sub)
	case mqtt.UNSUBSCRIBE:
		unsub, err := pa.ParseUnsubscribePacket(packet)
		if err != nil {
			return err
		}
		return b.HandleUnsubscribe(c.sess, unsub)
	case mqtt.PINGREQ:
		if err := pa.ParsePingReqPacket(packet); err != nil {
			return err
		}
		return b.HandlePingReq(c.sess)
	case mqtt.DISCONNECT:
		if err := pa.ParseDisconnectPacket(packet); err != nil {
			return err
		}
		return errClientDisconnect
	case mqtt.CONNECT:
		return violation("duplicate CONNECT packet")
	default:
		return violation("%s packet is not accepted from clients", packet.Header.Type)
	}
}

func (c *ConnectionHandler) handleConnection() {
	defer c.server.manager.RemoveConnection(c.conn)
	defer func() {
		if err := c.conn.Close(); err != nil {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", c.conn.ConnID, err)
		}
	}()

	if err := c.handleFirstPacket(); err != nil {
		return
	}

	reason, graceful := c.handlePacket()
	c.server.broker.Disconnect(c.sess, reason, graceful)
}
