package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgentPay-Guard/sdk/go/agentpay"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agentpay.Token{AccessToken: "demo-token", TokenType: "Bearer", ExpiresIn: 3600})
	})
	mux.HandleFunc("/api/v1/intents", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(agentpay.Intent{
				ID:          "intent-demo",
				PrincipalID: "agent-demo",
				RecipientID: "ritesh",
				AmountSats:  700,
				Status:      "PENDING",
				CreatedAt:   time.Now().Unix(),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/intents/intent-demo/approve", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agentpay.Intent{
			ID:          "intent-demo",
			PrincipalID: "agent-demo",
			RecipientID: "ritesh",
			AmountSats:  700,
			Status:      "EXECUTED",
			TxID:        "0x8d5a8c0e9f3f4a9f",
			UpdatedAt:   time.Now().Unix(),
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := agentpay.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := client.Authenticate(ctx, agentpay.Credentials{Username: "agent-demo", Password: "secret"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("authenticated with token %s\n", token.AccessToken)

	created, err := client.ProposeIntent(ctx, agentpay.IntentSubmission{RecipientID: "ritesh", AmountSats: 700, Note: "demo"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("proposed intent %s (status=%s)\n", created.ID, created.Status)

	executed, err := client.ApproveIntent(ctx, created.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("approved intent %s txid=%s\n", executed.ID, executed.TxID)
}
