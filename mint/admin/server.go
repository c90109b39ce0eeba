// Package admin is the operator-facing HTTP surface: keyset
// inspection/rotation, issued/redeemed balances, and quote status
// lookups. It is not the wallet-facing wire protocol — just enough
// for an operator or a monitoring job to see into a running mint.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rnambaale/monexo-ecash/mint"
)

// Server is the admin HTTP surface over a single running Mint.
type Server struct {
	httpServer *http.Server
	mint       *mint.Mint
}

// SetupServer builds a Server listening on addr (host:port).
func SetupServer(m *mint.Mint, addr string) (*Server, error) {
	s := &Server{mint: m}
	s.setupHTTPServer(addr)
	return s, nil
}

func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	return s.httpServer.Shutdown(context.Background())
}

func (s *Server) setupHTTPServer(addr string) {
	r := mux.NewRouter()

	r.HandleFunc("/keysets", s.getKeysets).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/keysets/{unit}/rotate", s.rotateKeyset).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/issued", s.getIssuedEcash).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/redeemed", s.getRedeemedEcash).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/balance", s.getTotalBalance).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/mint-quotes/{id}", s.getMintQuote).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/melt-quotes/{id}", s.getMeltQuote).Methods(http.MethodGet, http.MethodOptions)

	r.Use(setupHeaders)

	if addr == "" {
		addr = "127.0.0.1:8081"
	}
	s.httpServer = &http.Server{Addr: addr, Handler: r}
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(rw, req)
	})
}

func writeError(rw http.ResponseWriter, status int, err error) {
	rw.WriteHeader(status)
	rw.Write([]byte(err.Error()))
}

// KeysetInfo is the public view of a keyset: id, unit, active flag,
// and advertised amounts (not the private keys themselves).
type KeysetInfo struct {
	Id       string   `json:"id"`
	Unit     string   `json:"unit"`
	Active   bool     `json:"active"`
	Amounts  []uint64 `json:"amounts"`
	InputFee uint     `json:"input_fee_ppk"`
}

func (s *Server) getKeysets(rw http.ResponseWriter, req *http.Request) {
	keysets := s.mint.AllKeysets()
	infos := make([]KeysetInfo, 0, len(keysets))
	for _, ks := range keysets {
		amounts := make([]uint64, 0, len(ks.Keys))
		for amount := range ks.Keys {
			amounts = append(amounts, amount)
		}
		infos = append(infos, KeysetInfo{
			Id: ks.Id, Unit: ks.Unit, Active: ks.Active,
			Amounts: amounts, InputFee: ks.InputFeePpk,
		})
	}

	response, _ := json.Marshal(infos)
	rw.Write(response)
}

func (s *Server) rotateKeyset(rw http.ResponseWriter, req *http.Request) {
	unit := mux.Vars(req)["unit"]

	newKeyset, err := s.mint.Rotate(unit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}

	response, _ := json.Marshal(KeysetInfo{
		Id: newKeyset.Id, Unit: newKeyset.Unit, Active: newKeyset.Active,
		InputFee: newKeyset.InputFeePpk,
	})
	rw.Write(response)
}

type keysetAmount struct {
	Id     string `json:"id"`
	Amount uint64 `json:"amount"`
}

type totalsResponse struct {
	Keysets []keysetAmount `json:"keysets"`
	Total   uint64         `json:"total"`
}

func totals(m map[string]uint64) totalsResponse {
	resp := totalsResponse{Keysets: make([]keysetAmount, 0, len(m))}
	for id, amount := range m {
		resp.Keysets = append(resp.Keysets, keysetAmount{Id: id, Amount: amount})
		resp.Total += amount
	}
	return resp
}

func (s *Server) getIssuedEcash(rw http.ResponseWriter, req *http.Request) {
	issued, err := s.mint.IssuedEcash()
	if err != nil {
		writeError(rw, http.StatusInternalServerError, fmt.Errorf("reading issued ecash: %w", err))
		return
	}
	response, _ := json.Marshal(totals(issued))
	rw.Write(response)
}

func (s *Server) getRedeemedEcash(rw http.ResponseWriter, req *http.Request) {
	redeemed, err := s.mint.RedeemedEcash()
	if err != nil {
		writeError(rw, http.StatusInternalServerError, fmt.Errorf("reading redeemed ecash: %w", err))
		return
	}
	response, _ := json.Marshal(totals(redeemed))
	rw.Write(response)
}

type balanceResponse struct {
	Issued        totalsResponse `json:"issued"`
	Redeemed      totalsResponse `json:"redeemed"`
	InCirculation uint64         `json:"in_circulation"`
}

func (s *Server) getTotalBalance(rw http.ResponseWriter, req *http.Request) {
	issuedMap, err := s.mint.IssuedEcash()
	if err != nil {
		writeError(rw, http.StatusInternalServerError, fmt.Errorf("reading issued ecash: %w", err))
		return
	}
	redeemedMap, err := s.mint.RedeemedEcash()
	if err != nil {
		writeError(rw, http.StatusInternalServerError, fmt.Errorf("reading redeemed ecash: %w", err))
		return
	}

	issued, redeemed := totals(issuedMap), totals(redeemedMap)
	response, _ := json.Marshal(balanceResponse{
		Issued: issued, Redeemed: redeemed,
		InCirculation: issued.Total - redeemed.Total,
	})
	rw.Write(response)
}

func (s *Server) getMintQuote(rw http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	quote, err := s.mint.GetMintQuoteState(id)
	if err != nil {
		writeError(rw, http.StatusNotFound, err)
		return
	}
	response, _ := json.Marshal(quote)
	rw.Write(response)
}

func (s *Server) getMeltQuote(rw http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	quote, err := s.mint.GetMeltQuoteState(id)
	if err != nil {
		writeError(rw, http.StatusNotFound, err)
		return
	}
	response, _ := json.Marshal(quote)
	rw.Write(response)
}
