package testutil

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MockTCPServer 本地测试 TCP 服务，每个连接交给 handler 处理
type MockTCPServer struct {
	listener net.Listener
	handler  func(net.Conn)
	wg       sync.WaitGroup
	closed   bool
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
}

// NewMockTCPServer handler 为空时回显
func NewMockTCPServer(handler func(net.Conn)) *MockTCPServer {
	if handler == nil {
		handler = echoHandler
	}
	return &MockTCPServer{handler: handler, conns: make(map[net.Conn]struct{})}
}

// NewBannerServer 连接建立后立即发送 banner
func NewBannerServer(banner string) *MockTCPServer {
	return NewMockTCPServer(func(conn net.Conn) {
		defer conn.Close()
		conn.Write([]byte(banner))
		// 等客户端先关闭
		io.Copy(io.Discard, conn)
	})
}

// NewSilentServer 接受连接但什么都不发，直到客户端关闭
func NewSilentServer() *MockTCPServer {
	return NewMockTCPServer(func(conn net.Conn) {
		defer conn.Close()
		io.Copy(io.Discard, conn)
	})
}

// NewProbeResponder 保持沉默，收到 probe 后回复 response
func NewProbeResponder(probe, response string) *MockTCPServer {
	return NewMockTCPServer(func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, len(probe))
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		if string(buf) == probe {
			conn.Write([]byte(response))
		}
		io.Copy(io.Discard, conn)
	})
}

func echoHandler(conn net.Conn) {
	defer conn.Close()
	io.Copy(conn, conn)
}

// Start 在随机端口上启动
func (s *MockTCPServer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	s.serve(listener)
	return nil
}

func (s *MockTCPServer) serve(listener net.Listener) {
	s.listener = listener
	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *MockTCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.handler(conn)
		}()
	}
}

// Stop 关闭监听和所有未结束的连接
func (s *MockTCPServer) Stop() error {
	s.mu.Lock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *MockTCPServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *MockTCPServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// MockTLSServer 在 MockTCPServer 外层加 TLS
type MockTLSServer struct {
	*MockTCPServer
	config *tls.Config
}

// NewMockTLSServer 使用给定证书，协议版本 TLS1.2 到 TLS1.3
func NewMockTLSServer(cert tls.Certificate, handler func(net.Conn)) *MockTLSServer {
	return NewMockTLSServerWithConfig(&tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, handler)
}

// NewMockTLSServerWithConfig 自定义 TLS 配置，例如固定协议版本
func NewMockTLSServerWithConfig(config *tls.Config, handler func(net.Conn)) *MockTLSServer {
	if handler == nil {
		handler = handshakeHandler
	}
	return &MockTLSServer{
		MockTCPServer: NewMockTCPServer(handler),
		config:        config,
	}
}

// handshakeHandler 完成握手后等待客户端关闭
func handshakeHandler(conn net.Conn) {
	defer conn.Close()
	if tc, ok := conn.(*tls.Conn); ok {
		tc.SetDeadline(time.Now().Add(5 * time.Second))
		if err := tc.Handshake(); err != nil {
			return
		}
	}
	io.Copy(io.Discard, conn)
}

func (s *MockTLSServer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	s.serve(tls.NewListener(listener, s.config))
	return nil
}

// NewFTPServer 只实现登录流程的 FTP 服务，allowAnonymous 决定匿名登录是否成功
func NewFTPServer(greeting string, allowAnonymous bool) *MockTCPServer {
	return NewMockTCPServer(func(conn net.Conn) {
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))

		reply := func(line string) {
			conn.Write([]byte(line + "\r\n"))
		}
		reply(greeting)

		var user string
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fields := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 2)
			arg := ""
			if len(fields) > 1 {
				arg = fields[1]
			}
			switch strings.ToUpper(fields[0]) {
			case "USER":
				user = arg
				reply("331 Please specify the password.")
			case "PASS":
				if allowAnonymous && (user == "anonymous" || user == "ftp") {
					reply("230 Login successful.")
				} else {
					reply("530 Login incorrect.")
				}
			case "TYPE", "OPTS":
				reply("200 OK.")
			case "QUIT":
				reply("221 Goodbye.")
				return
			default:
				reply("502 Command not implemented.")
			}
		}
	})
}
