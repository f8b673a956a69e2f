package sockets

import "time"

func WithPingInterval(d time.Duration) func(*Conn) {
	return func(s *Conn) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

func WithPongWait(d time.Duration) func(*Conn) {
	return func(s *Conn) {
		if d > 0 {
			s.pongWait = d
		}
	}
}

func WithMaxMessageSize(size int64) func(*Conn) {
	return func(s *Conn) {
		if size > 0 {
			s.maxMessageSize = size
		}
	}
}

func WithSendBuffer(n int) func(*Conn) {
	return func(s *Conn) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

func InsecureSkipVerify() func(*Conn) {
	return func(s *Conn) {
		s.sslSkipVerify = true
	}
}

// OnMessage is called from the read pump, one message at a time.
func OnMessage(f func([]byte, Connection)) func(*Conn) {
	return func(s *Conn) {
		s.onMessage = f
	}
}

func OnError(f func(error)) func(*Conn) {
	return func(s *Conn) {
		s.onError = f
	}
}

// OnConnected runs before the first message is read.
func OnConnected(f func(Connection)) func(*Conn) {
	return func(s *Conn) {
		s.onConnected = f
	}
}

// OnClose runs exactly once, whichever side closed the connection.
func OnClose(f func(Connection)) func(*Conn) {
	return func(s *Conn) {
		s.onClose = f
	}
}
