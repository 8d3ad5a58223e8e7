// Package mockmodel serves a stand-in model endpoint for local runs and tests.
package mockmodel

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/digitalforce/flexi/backend/pkg/utils"
)

type predictRequest struct {
	Prompt    string `json:"prompt"`
	Inputs    string `json:"inputs"`
	Instances []struct {
		Input string `json:"input"`
	} `json:"instances"`
}

// Handler answers POST /predict with {"text": ...} describing the received prompt.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/predict", handlePredict)
	r.Post("/predict/", handlePredict)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "not found")
	})
	return r
}

func handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid-body")
		return
	}

	var req predictRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid-json")
			return
		}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"text": Reply(req.prompt())})
}

func (r predictRequest) prompt() string {
	switch {
	case r.Prompt != "":
		return r.Prompt
	case r.Inputs != "":
		return r.Inputs
	case len(r.Instances) > 0:
		return r.Instances[0].Input
	default:
		return ""
	}
}

// Reply is the text returned for prompt.
func Reply(prompt string) string {
	return fmt.Sprintf("MOCK RESPONSE: ricevuto prompt di lunghezza %d. Esempio di risposta per test.", utf8.RuneCountInString(prompt))
}
