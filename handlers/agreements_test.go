package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeDript/codedript-backend/escrow"
	"github.com/CodeDript/codedript-backend/models"
)

func agreementBody(developer *models.User) map[string]interface{} {
	return map[string]interface{}{
		"title":             "Landing Page",
		"description":       "Marketing site with hero and pricing sections",
		"developer_id":      developer.ID,
		"developer_address": developer.WalletAddress,
		"total_value":       "1000",
		"currency":          "ETH",
		"deadline":          time.Now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339),
		"milestones": []map[string]interface{}{
			{"title": "Design", "amount": "400"},
			{"title": "Build", "amount": "600"},
		},
	}
}

func TestAgreementNegotiationOverHTTP(t *testing.T) {
	env := setupEnv(t)
	client := env.createUser(t, models.RoleClient, "0x1111111111111111111111111111111111111111")
	developer := env.createUser(t, models.RoleDeveloper, "0x2222222222222222222222222222222222222222")
	clientToken := env.token(t, client)
	developerToken := env.token(t, developer)

	// Client proposes.
	w := env.request(t, http.MethodPost, "/api/v1/agreements", clientToken, agreementBody(developer))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ag models.Agreement
	decodeBody(t, w, &ag)
	assert.Equal(t, models.AgreementPending, ag.Status)
	require.Len(t, ag.Milestones, 2)

	// Developer prices.
	w = env.request(t, http.MethodPost, "/api/v1/agreements/"+itoa(ag.ID)+"/price", developerToken, map[string]interface{}{
		"total_value": "1000",
		"milestones": []map[string]interface{}{
			{"id": ag.Milestones[0].ID, "amount": "400"},
			{"id": ag.Milestones[1].ID, "amount": "600"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &ag)
	assert.Equal(t, models.AgreementPriced, ag.Status)

	// Client approves and the escrow funding transaction is recorded.
	env.escrow.CreateAgreementFunc = func(ctx context.Context, dev, name, docHash string, totalValue decimal.Decimal, start, end time.Time) (string, error) {
		assert.Equal(t, developer.WalletAddress, dev)
		assert.True(t, totalValue.Equal(decimal.RequireFromString("1000")))
		return "0xfund", nil
	}
	w = env.request(t, http.MethodPost, "/api/v1/agreements/"+itoa(ag.ID)+"/approve", clientToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approved struct {
		Agreement   models.Agreement   `json:"agreement"`
		Transaction models.Transaction `json:"transaction"`
	}
	decodeBody(t, w, &approved)
	assert.Equal(t, models.AgreementActive, approved.Agreement.Status)
	assert.Equal(t, "0xfund", approved.Transaction.Hash)
	assert.Equal(t, models.TransactionCreation, approved.Transaction.Type)
}

func TestAgreementApproveRequiresClientRole(t *testing.T) {
	env := setupEnv(t)
	developer := env.createUser(t, models.RoleDeveloper, "0x2222222222222222222222222222222222222222")

	w := env.request(t, http.MethodPost, "/api/v1/agreements/1/approve", env.token(t, developer), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAgreementCreateMultipartUploadsFiles(t *testing.T) {
	env := setupEnv(t)
	client := env.createUser(t, models.RoleClient, "0x1111111111111111111111111111111111111111")

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	form.WriteField("title", "Landing Page")
	form.WriteField("description", "Marketing site")
	form.WriteField("client_address", client.WalletAddress)
	form.WriteField("total_value", "1000")
	form.WriteField("currency", "ETH")
	form.WriteField("milestones", `[{"title":"Design","amount":"1000"}]`)
	part, err := form.CreateFormFile("files", "scope.pdf")
	require.NoError(t, err)
	part.Write([]byte("signed scope"))
	require.NoError(t, form.Close())

	req, err := http.NewRequest(http.MethodPost, "/api/v1/agreements", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.token(t, client))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ag models.Agreement
	decodeBody(t, w, &ag)
	require.Len(t, ag.Documents, 1)
	assert.Equal(t, "scope.pdf", ag.Documents[0].Name)
	assert.NotEmpty(t, ag.Documents[0].ContentHash)
	assert.Equal(t, []string{"scope.pdf"}, env.uploader.uploads)
}

func TestAgreementUpdateLockedAfterPricing(t *testing.T) {
	env := setupEnv(t)
	client := env.createUser(t, models.RoleClient, "0x1111111111111111111111111111111111111111")
	developer := env.createUser(t, models.RoleDeveloper, "0x2222222222222222222222222222222222222222")
	token := env.token(t, client)

	w := env.request(t, http.MethodPost, "/api/v1/agreements", token, agreementBody(developer))
	require.Equal(t, http.StatusCreated, w.Code)
	var ag models.Agreement
	decodeBody(t, w, &ag)

	w = env.request(t, http.MethodPut, "/api/v1/agreements/"+itoa(ag.ID), token, map[string]interface{}{
		"title": "Landing Page v2",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NoError(t, env.db.Model(&models.Agreement{}).Where("id = ?", ag.ID).Update("status", models.AgreementPriced).Error)
	w = env.request(t, http.MethodPut, "/api/v1/agreements/"+itoa(ag.ID), token, map[string]interface{}{
		"title": "Landing Page v3",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAgreementListScopedByRole(t *testing.T) {
	env := setupEnv(t)
	client := env.createUser(t, models.RoleClient, "0x1111111111111111111111111111111111111111")
	otherClient := env.createUser(t, models.RoleClient, "0x3333333333333333333333333333333333333333")
	developer := env.createUser(t, models.RoleDeveloper, "0x2222222222222222222222222222222222222222")

	w := env.request(t, http.MethodPost, "/api/v1/agreements", env.token(t, client), agreementBody(developer))
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.request(t, http.MethodGet, "/api/v1/agreements", env.token(t, client), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []models.Agreement
	decodeBody(t, w, &mine)
	assert.Len(t, mine, 1)

	w = env.request(t, http.MethodGet, "/api/v1/agreements", env.token(t, otherClient), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var theirs []models.Agreement
	decodeBody(t, w, &theirs)
	assert.Empty(t, theirs)

	w = env.request(t, http.MethodGet, "/api/v1/agreements", env.token(t, developer), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var assigned []models.Agreement
	decodeBody(t, w, &assigned)
	assert.Len(t, assigned, 1)
}

func TestReleaseErrorMapping(t *testing.T) {
	env := setupEnv(t)
	client := env.createUser(t, models.RoleClient, "0x1111111111111111111111111111111111111111")
	developer := env.createUser(t, models.RoleDeveloper, "0x2222222222222222222222222222222222222222")

	onChainID := uint64(5)
	ag := &models.Agreement{
		Title: "Landing Page", Description: "x",
		ClientID: client.ID, DeveloperID: developer.ID,
		ClientAddress: client.WalletAddress, DeveloperAddress: developer.WalletAddress,
		TotalValue: decimal.RequireFromString("1000"), Currency: "ETH",
		Status: models.AgreementActive, OnChainID: &onChainID,
	}
	require.NoError(t, env.db.Create(ag).Error)

	// On-chain escrow still Pending: conflict, with the kind as a code.
	env.escrow.GetAgreementSummaryFunc = func(ctx context.Context, id uint64) (*escrow.Summary, error) {
		return &escrow.Summary{Client: client.WalletAddress, Status: escrow.StatusPending}, nil
	}
	w := env.request(t, http.MethodPost, "/api/v1/agreements/"+itoa(ag.ID)+"/release", env.token(t, client), nil)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "OnChainState")

	// Wrong connected wallet: forbidden.
	env.escrow.GetAgreementSummaryFunc = func(ctx context.Context, id uint64) (*escrow.Summary, error) {
		return &escrow.Summary{Client: "0x9999999999999999999999999999999999999999", Status: escrow.StatusActive}, nil
	}
	w = env.request(t, http.MethodPost, "/api/v1/agreements/"+itoa(ag.ID)+"/release", env.token(t, client), nil)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "WrongAccount")
}
