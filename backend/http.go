package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mezonai/msig/chain"
	"github.com/mezonai/msig/errors"
	"github.com/mezonai/msig/jsonx"
	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/types"
)

const (
	pathFeeList     = "signed/order/feeList"
	pathFindAddress = "signed/order/findAddress"
	pathFindRawData = "signed/order/findAddressRawData"
	pathSaveRawData = "signed/order/saveRawData"
	defaultTimeout  = 15 * time.Second
)

type Config struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// response is the backend envelope. Data holds either a JSON document or a
// JSON encoded string of one.
type response struct {
	Code    string           `json:"code"`
	Data    jsonx.RawMessage `json:"data"`
	Success bool             `json:"success"`
	Msg     string           `json:"msg"`
}

type rawDataItem struct {
	BusinessID string `json:"businessId"`
	Type       string `json:"type"`
	RawData    string `json:"rawData"`
	RawTime    string `json:"rawTime"`
}

type HTTPClient struct {
	rest *chain.RESTClient
}

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{rest: chain.NewRESTClient(cfg.URL, cfg.Headers, timeout)}
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	var resp response
	if err := c.rest.Post(ctx, path, body, &resp); err != nil {
		logx.Warn("BACKEND", fmt.Sprintf("Request failed | path=%s | err=%v", path, err))
		return errors.Network(errors.ErrCodeBackendUnavailable, err)
	}
	if !resp.Success {
		return errors.Network(errors.ErrCodeBackendUnavailable,
			fmt.Errorf("%s rejected: code=%s msg=%s", path, resp.Code, resp.Msg))
	}
	if out == nil {
		return nil
	}
	data := []byte(resp.Data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(string(data))
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, errors.ErrCodeInternal, "malformed backend data")
		}
		data = []byte(unquoted)
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, errors.KindInternal, errors.ErrCodeInternal, "malformed backend data")
	}
	return nil
}

func (c *HTTPClient) ServiceFee(ctx context.Context, code types.ChainCode) (*ServiceFee, error) {
	var out struct {
		List []*ServiceFee `json:"list"`
	}
	if err := c.post(ctx, pathFeeList, map[string]string{"chainCode": code.String()}, &out); err != nil {
		return nil, err
	}
	for _, fee := range out.List {
		if strings.EqualFold(fee.ChainCode, code.String()) {
			return fee, nil
		}
	}
	if len(out.List) > 0 {
		return out.List[0], nil
	}
	return nil, errors.NotFound(errors.ErrCodeUnsupported, "no service fee configured").WithChain(code.String())
}

func (c *HTTPClient) DepositAddress(ctx context.Context, code types.ChainCode) (*DepositAddress, error) {
	var out DepositAddress
	if err := c.post(ctx, pathFindAddress, map[string]string{"chainCode": code.String()}, &out); err != nil {
		return nil, err
	}
	if out.Address == "" || !out.Enable {
		return nil, errors.NotFound(errors.ErrCodeUnsupported, "no deposit address available").WithChain(code.String())
	}
	return &out, nil
}

func (c *HTTPClient) findRawData(ctx context.Context, uids []string, kind, id string) ([]rawDataItem, error) {
	var items []rawDataItem
	seen := make(map[string]struct{})
	for _, uid := range uids {
		req := map[string]string{"uid": uid, "type": kind}
		if id != "" {
			req["businessId"] = id
		}
		var out struct {
			List []rawDataItem `json:"list"`
		}
		if err := c.post(ctx, pathFindRawData, req, &out); err != nil {
			return nil, err
		}
		for _, item := range out.List {
			if _, dup := seen[item.BusinessID]; dup {
				continue
			}
			seen[item.BusinessID] = struct{}{}
			items = append(items, item)
		}
	}
	return items, nil
}

func (c *HTTPClient) RecoverAccounts(ctx context.Context, uids []string, id string) ([]*types.MultisigAccountData, error) {
	items, err := c.findRawData(ctx, uids, RawDataMultisig, id)
	if err != nil {
		return nil, err
	}
	var out []*types.MultisigAccountData
	for _, item := range items {
		var data types.MultisigAccountData
		if err := jsonx.UnmarshalFromString(item.RawData, &data); err != nil || data.Account == nil {
			logx.Warn("BACKEND", fmt.Sprintf("Skipping malformed account raw data | id=%s | err=%v", item.BusinessID, err))
			continue
		}
		out = append(out, &data)
	}
	logx.Info("BACKEND", fmt.Sprintf("Recovered accounts | uids=%d | id=%s | count=%d", len(uids), id, len(out)))
	return out, nil
}

func (c *HTTPClient) RecoverQueues(ctx context.Context, uids []string, id string) ([]*types.MultisigQueueData, error) {
	items, err := c.findRawData(ctx, uids, RawDataTrans, id)
	if err != nil {
		return nil, err
	}
	var out []*types.MultisigQueueData
	now := time.Now().UTC()
	for _, item := range items {
		var proposal types.QueueProposal
		if err := jsonx.UnmarshalFromString(item.RawData, &proposal); err != nil || proposal.Queue == nil {
			logx.Warn("BACKEND", fmt.Sprintf("Skipping malformed queue raw data | id=%s | err=%v", item.BusinessID, err))
			continue
		}
		out = append(out, proposal.ToQueueData(now))
	}
	logx.Info("BACKEND", fmt.Sprintf("Recovered queues | uids=%d | id=%s | count=%d", len(uids), id, len(out)))
	return out, nil
}

func (c *HTTPClient) saveRawData(ctx context.Context, kind, id string, payload interface{}) error {
	raw, err := jsonx.MarshalToString(payload)
	if err != nil {
		return errors.Internal(err)
	}
	return c.post(ctx, pathSaveRawData, map[string]string{
		"businessId": id,
		"type":       kind,
		"rawData":    raw,
	}, nil)
}

func (c *HTTPClient) SaveAccount(ctx context.Context, data *types.MultisigAccountData) error {
	return c.saveRawData(ctx, RawDataMultisig, data.Account.ID, data)
}

func (c *HTTPClient) SaveQueue(ctx context.Context, data *types.MultisigQueueData) error {
	return c.saveRawData(ctx, RawDataTrans, data.Queue.ID, types.NewQueueProposal(data))
}
