package confidential

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/mdlayher/vsock"
)

// Server exposes the value store's key-distribution and reencryption
// operations over a one-shot JSON connection protocol: the client writes a
// request, half-closes, and reads the response. When the service runs inside
// a confidential VM the listener is a vsock port; for local development it is
// a TCP address.
type Server struct {
	store      *Store
	attester   Attester // nil outside an enclave
	maxWorkers int
}

// NewServer wraps a store. attester may be nil, in which case key responses
// carry no attestation document.
func NewServer(store *Store, attester Attester, maxWorkers int) *Server {
	return &Server{store: store, attester: attester, maxWorkers: maxWorkers}
}

// ReencryptRequest asks for a value reencrypted to the requester's RSA key.
type ReencryptRequest struct {
	Type               string `json:"type"` // "reencrypt"
	Handle             string `json:"handle"`
	Requester          string `json:"requester"`
	RequesterPublicKey string `json:"requester_public_key"` // PEM
}

// KeyResponse carries the service public key, with attestation when enclaved.
type KeyResponse struct {
	Type           string `json:"type"`
	PublicKey      string `json:"public_key"` // PEM
	AttestationDoc string `json:"attestation_doc,omitempty"`
}

// ListenVsock serves on a vsock port (confidential VM deployment).
func (s *Server) ListenVsock(port uint32) error {
	listener, err := vsock.Listen(port, nil)
	if err != nil {
		return fmt.Errorf("failed to create vsock listener: %w", err)
	}
	log.Printf("INFO: Confidential value service listening on vsock port %d", port)
	return s.Serve(listener)
}

// ListenTCP serves on a TCP address (local development).
func (s *Server) ListenTCP(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create TCP listener: %w", err)
	}
	log.Printf("INFO: Confidential value service listening on %s", addr)
	return s.Serve(listener)
}

// Serve accepts one-shot connections on an existing listener. It takes
// ownership of the listener and only returns once accepting fails for good.
func (s *Server) Serve(listener net.Listener) error {
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	semaphore := make(chan struct{}, s.maxWorkers)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("ERROR: Failed to accept connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	var baseReq struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(buf.Bytes(), &baseReq); err != nil {
		log.Printf("ERROR: Failed to decode base request: %v", err)
		return
	}

	var response any
	switch baseReq.Type {
	case "ping":
		response = map[string]any{
			"type":      "pong",
			"timestamp": time.Now().Unix(),
		}

	case "key_request":
		response = s.handleKeyRequest()

	case "reencrypt":
		var req ReencryptRequest
		if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
			response = errorResponse(fmt.Sprintf("failed to decode reencrypt request: %v", err))
			break
		}
		response = s.handleReencrypt(req)

	default:
		response = errorResponse(fmt.Sprintf("unknown request type: %s", baseReq.Type))
	}

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

func (s *Server) handleKeyRequest() any {
	publicKeyPEM, err := s.store.Keys().PublicKeyPEM()
	if err != nil {
		log.Printf("ERROR: Key request failed: %v", err)
		return errorResponse(fmt.Sprintf("key request failed: %v", err))
	}

	resp := KeyResponse{Type: "key_response", PublicKey: publicKeyPEM}
	if s.attester != nil {
		doc, err := AttestServiceKey(s.attester, s.store.Keys())
		if err != nil {
			log.Printf("ERROR: Key attestation failed: %v (continuing unattested)", err)
		} else {
			resp.AttestationDoc = doc
		}
	}
	return resp
}

func (s *Server) handleReencrypt(req ReencryptRequest) any {
	requesterKey, err := ParsePublicKeyPEM(req.RequesterPublicKey)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid requester public key: %v", err))
	}

	ev, err := s.store.Reencrypt(Handle(req.Handle), req.Requester, requesterKey)
	if err != nil {
		return errorResponse(fmt.Sprintf("reencrypt failed: %v", err))
	}

	return map[string]any{
		"type":  "reencrypt_response",
		"value": ev,
	}
}

func errorResponse(msg string) map[string]any {
	return map[string]any{"type": "error", "message": msg}
}
