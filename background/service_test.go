package background

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	shopagent "github.com/goliatone/go-shopagent"
	"github.com/goliatone/go-shopagent/gateway/gatewaytest"
	"github.com/goliatone/go-shopagent/insights"
	"github.com/goliatone/go-shopagent/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *gatewaytest.MockProvider) {
	t.Helper()

	provider := &gatewaytest.MockProvider{}
	svc := New(shopagent.DefaultConfig(), Dependencies{
		Provider: provider,
		Backend:  session.NewMemoryBackend(),
		Insights: insights.ServiceFunc(func(_ context.Context, url string) (string, error) {
			return "insight for " + url, nil
		}),
	})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Close)
	return svc, provider
}

func TestBindAuthState(t *testing.T) {
	provider := &gatewaytest.MockProvider{}
	store := session.NewStore(nil)
	unbind := BindAuthState(provider, store, nil)

	provider.Emit(&shopagent.Identity{UserID: "u1", Email: "a@b.co", DisplayName: "Ann", EmailVerified: true})

	state, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusLoggedIn, state.Status)
	assert.Equal(t, "u1", shopagent.Deref(state.UserID))
	assert.Equal(t, "Ann", shopagent.Deref(state.DisplayName))
	assert.True(t, state.IsVerified())

	provider.Emit(nil)
	state, err = store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusLoggedOut, state.Status)
	assert.Nil(t, state.UserID)
	assert.Nil(t, state.DisplayName)
	assert.Nil(t, state.EmailVerified)

	unbind()
	assert.Equal(t, 0, provider.Listeners())

	provider.Emit(&shopagent.Identity{UserID: "u2"})
	state, err = store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusLoggedOut, state.Status)
}

func TestServiceRoutesRequestsFromTabs(t *testing.T) {
	svc, provider := newTestService(t)
	provider.On("SignOut", mock.Anything).Return(nil).Run(func(mock.Arguments) {
		provider.Emit(nil)
	}).Once()

	port := svc.Bus().Connect(3)
	resp, err := port.Send(context.Background(), shopagent.Request{Action: shopagent.ActionLogout})
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusSuccess, resp.Status)

	state, err := svc.Reader().Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusLoggedOut, state.Status)
	provider.AssertExpectations(t)
}

func TestServiceGatesInsightsOnSession(t *testing.T) {
	svc, provider := newTestService(t)
	port := svc.Bus().Connect(1)
	req := shopagent.Request{Action: shopagent.ActionFetchProductInsights, URL: "https://shop.example/p/1"}

	resp, err := port.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusError, resp.Status)
	assert.Equal(t, insights.MessageLoginRequired, resp.Error)

	provider.Emit(&shopagent.Identity{UserID: "u1", Email: "a@b.co"})
	resp, err = port.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, insights.MessageVerificationRequired, resp.Error)

	provider.Emit(&shopagent.Identity{UserID: "u1", Email: "a@b.co", EmailVerified: true})
	resp, err = port.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusSuccess, resp.Status)
	assert.Equal(t, "insight for https://shop.example/p/1", resp.Insight)
}

func TestServiceRecordsCapturedProducts(t *testing.T) {
	svc, _ := newTestService(t)
	port := svc.Bus().Connect(1)

	ack, err := port.ReportProduct(context.Background(), shopagent.ProductInfo{
		Name: "Kettle",
		URL:  "https://shop.example/p/kettle",
	})
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.NotEmpty(t, ack.StoredKey)

	record, ok, err := svc.recorder.Get(context.Background(), ack.StoredKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Kettle", record.Name)
}

func TestServiceTogglePanel(t *testing.T) {
	svc, _ := newTestService(t)

	open := false
	svc.Bus().Connect(9).OnMessage(func(_ context.Context, raw []byte, reply func([]byte)) bool {
		var msg shopagent.TogglePanelMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, shopagent.ActionTogglePanel, msg.Action)
		open = !open
		payload, _ := json.Marshal(shopagent.TogglePanelAck{Status: shopagent.PanelToggledStatus, Open: open})
		reply(payload)
		return false
	})

	ack, err := svc.TogglePanel(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, ack.Open)
	assert.Equal(t, shopagent.PanelToggledStatus, ack.Status)

	_, err = svc.TogglePanel(context.Background(), 404)
	require.Error(t, err)
	assert.Equal(t, shopagent.KindChannel, shopagent.KindOf(err))
}

func TestServiceRestartKeepsState(t *testing.T) {
	svc, provider := newTestService(t)
	provider.Emit(&shopagent.Identity{UserID: "u1", EmailVerified: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Restart(ctx))
	assert.Equal(t, 1, provider.Listeners())

	state, err := svc.Reader().Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", shopagent.Deref(state.UserID))

	resp, err := svc.Bus().Connect(2).Send(ctx, shopagent.Request{
		Action: shopagent.ActionFetchProductInsights,
		URL:    "https://shop.example/p/2",
	})
	require.NoError(t, err)
	assert.Equal(t, shopagent.StatusSuccess, resp.Status)
}
