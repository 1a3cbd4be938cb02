package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendServer struct {
	saved map[string]string
}

func newBackendServer(t *testing.T) (*httptest.Server, *backendServer) {
	state := &backendServer{saved: make(map[string]string)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		require.NoError(t, jsonx.Unmarshal(body, &req))

		reply := func(data interface{}) {
			raw, _ := jsonx.MarshalToString(data)
			out, _ := jsonx.Marshal(map[string]interface{}{"success": true, "data": raw})
			_, _ = w.Write(out)
		}
		switch r.URL.Path {
		case "/signed/order/feeList":
			reply(map[string]interface{}{"list": []map[string]interface{}{
				{"name": "multisig", "code": "ms", "chainCode": req["chainCode"], "feeTokenCode": "USDT", "free": 1.5, "price": 2},
			}})
		case "/signed/order/findAddress":
			if req["chainCode"] == "ton" {
				_, _ = w.Write([]byte(`{"success":false,"code":"500","msg":"unsupported"}`))
				return
			}
			reply(map[string]interface{}{"id": "1", "chainCode": req["chainCode"], "address": "deposit-" + req["chainCode"], "enable": true})
		case "/signed/order/saveRawData":
			state.saved[req["type"]+":"+req["businessId"]] = req["rawData"]
			_, _ = w.Write([]byte(`{"success":true}`))
		case "/signed/order/findAddressRawData":
			var list []map[string]string
			for key, raw := range state.saved {
				if key == req["type"]+":"+req["businessId"] || (req["businessId"] == "" && key[:len(req["type"])] == req["type"]) {
					list = append(list, map[string]string{"businessId": req["businessId"], "type": req["type"], "rawData": raw})
				}
			}
			reply(map[string]interface{}{"list": list})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, state
}

func TestHTTPClient_FeesAndDeposit(t *testing.T) {
	srv, _ := newBackendServer(t)
	c := NewHTTPClient(Config{URL: srv.URL, Timeout: time.Second})

	fee, err := c.ServiceFee(context.Background(), types.ChainTron)
	require.NoError(t, err)
	assert.Equal(t, "tron", fee.ChainCode)
	assert.Equal(t, 1.5, fee.Fee)

	addr, err := c.DepositAddress(context.Background(), types.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, "deposit-eth", addr.Address)

	_, err = c.DepositAddress(context.Background(), types.ChainTon)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}

func TestHTTPClient_SaveAndRecover(t *testing.T) {
	srv, _ := newBackendServer(t)
	c := NewHTTPClient(Config{URL: srv.URL})
	ctx := context.Background()

	account := &types.MultisigAccountData{
		Account: &types.MultisigAccount{ID: "acc-1", ChainCode: types.ChainTron, Threshold: 2, MemberNum: 2, Status: types.AccountDeployed},
		Members: []*types.MultisigMember{{AccountID: "acc-1", Address: "A", Confirmed: true}, {AccountID: "acc-1", Address: "B", Confirmed: true}},
	}
	require.NoError(t, c.SaveAccount(ctx, account))

	queue := &types.MultisigQueueData{
		Queue:      &types.MultisigQueueEntry{ID: "q-1", AccountID: "acc-1", Value: "1", Status: types.QueueSignable},
		Signatures: []*types.MultisigSignature{{QueueID: "q-1", Address: "A", Signature: "s", Status: types.SignatureConfirmed}},
	}
	require.NoError(t, c.SaveQueue(ctx, queue))

	accounts, err := c.RecoverAccounts(ctx, []string{"u1"}, "acc-1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, types.AccountDeployed, accounts[0].Account.Status)
	assert.Len(t, accounts[0].Members, 2)

	queues, err := c.RecoverQueues(ctx, []string{"u1", "u2"}, "q-1")
	require.NoError(t, err)
	require.Len(t, queues, 1, "duplicates across uids are collapsed")
	assert.Equal(t, "acc-1", queues[0].Queue.AccountID)
	require.Len(t, queues[0].Signatures, 1)
	assert.Equal(t, "q-1", queues[0].Signatures[0].QueueID)

	none, err := c.RecoverAccounts(ctx, []string{"u1"}, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHTTPClient_Unavailable(t *testing.T) {
	c := NewHTTPClient(Config{URL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	_, err := c.RecoverAccounts(context.Background(), []string{"u"}, "x")
	require.Error(t, err)
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))
	assert.Equal(t, errors.Code(errors.ErrCodeBackendUnavailable), errors.CodeOf(err))
}

func TestMemory_RecoverCountsPulls(t *testing.T) {
	m := NewMemory()
	data := &types.MultisigAccountData{Account: &types.MultisigAccount{ID: "a"}}
	require.NoError(t, m.SaveAccount(context.Background(), data))
	data.Account.Name = "mutated"

	got, err := m.RecoverAccounts(context.Background(), nil, "a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Account.Name)
	assert.Equal(t, int32(1), m.AccountPulls.Load())
}
