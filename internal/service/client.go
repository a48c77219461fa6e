package service

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/caesar-terminal/settle/internal/auth"
)

// DefaultRequestTTL is how long a signed request stays valid.
const DefaultRequestTTL = 30 * time.Second

// Client calls settle.v1.Settlement. Mutating calls are signed with the
// client's KeyRing; a Client without one can only query.
type Client struct {
	conn *grpc.ClientConn
	key  *auth.KeyRing
	ttl  time.Duration
	now  func() time.Time
}

// Dial connects to target, e.g. "unix:///run/settle/settle.sock" or
// "localhost:9090".
func Dial(target string, key *auth.KeyRing, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, key), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn, key *auth.KeyRing) *Client {
	return &Client{conn: conn, key: key, ttl: DefaultRequestTTL, now: time.Now}
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out, grpc.ForceCodec(jsonCodec{}))
}

func (c *Client) signed(ctx context.Context, method string, body, out any) error {
	if c.key == nil {
		return auth.ErrNoKey
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	env, err := c.key.Sign(fullMethod(method), raw, c.now(), c.ttl)
	if err != nil {
		return err
	}
	return c.call(ctx, method, &Signed{Auth: env, Body: raw}, out)
}

func signedCall[Resp any](ctx context.Context, c *Client, method string, body any) (*Resp, error) {
	out := new(Resp)
	if err := c.signed(ctx, method, body, out); err != nil {
		return nil, err
	}
	return out, nil
}

func queryCall[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.call(ctx, method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpsertAsset(ctx context.Context, req UpsertAssetRequest) (*AssetResponse, error) {
	return signedCall[AssetResponse](ctx, c, MethodUpsertAsset, req)
}

func (c *Client) SetFeeder(ctx context.Context, req SetFeederRequest) error {
	_, err := signedCall[Empty](ctx, c, MethodSetFeeder, req)
	return err
}

func (c *Client) SetSource(ctx context.Context, req SetSourceRequest) error {
	_, err := signedCall[Empty](ctx, c, MethodSetSource, req)
	return err
}

func (c *Client) PushPrice(ctx context.Context, req PushPriceRequest) (*Price, error) {
	return signedCall[Price](ctx, c, MethodPushPrice, req)
}

func (c *Client) Pull(ctx context.Context, req PullRequest) (*Price, error) {
	return signedCall[Price](ctx, c, MethodPull, req)
}

func (c *Client) GetAsset(ctx context.Context, req AssetRequest) (*AssetResponse, error) {
	return queryCall[AssetResponse](ctx, c, MethodGetAsset, req)
}

func (c *Client) ListAssets(ctx context.Context, req FeedRequest) (*AssetsResponse, error) {
	return queryCall[AssetsResponse](ctx, c, MethodListAssets, req)
}

func (c *Client) GetHistory(ctx context.Context, req AssetRequest) (*HistoryResponse, error) {
	return queryCall[HistoryResponse](ctx, c, MethodGetHistory, req)
}

func (c *Client) GetFeedInfo(ctx context.Context, req FeedRequest) (*FeedInfoResponse, error) {
	return queryCall[FeedInfoResponse](ctx, c, MethodGetFeedInfo, req)
}

func (c *Client) GetSpot(ctx context.Context, req SpotRequest) (*Price, error) {
	return queryCall[Price](ctx, c, MethodGetSpot, req)
}

func (c *Client) GetTWAP(ctx context.Context, req TWAPRequest) (*TWAPResponse, error) {
	return queryCall[TWAPResponse](ctx, c, MethodGetTWAP, req)
}

func (c *Client) SetOracle(ctx context.Context, req SetOracleRequest) error {
	_, err := signedCall[Empty](ctx, c, MethodSetOracle, req)
	return err
}

func (c *Client) CreateRound(ctx context.Context, req CreateRoundRequest) (*RoundResponse, error) {
	return signedCall[RoundResponse](ctx, c, MethodCreateRound, req)
}

func (c *Client) JoinRound(ctx context.Context, req JoinRequest) (*RoundResponse, error) {
	return signedCall[RoundResponse](ctx, c, MethodJoinRound, req)
}

func (c *Client) LockRound(ctx context.Context, id uint64) (*RoundResponse, error) {
	return signedCall[RoundResponse](ctx, c, MethodLockRound, RoundRequest{RoundID: id})
}

func (c *Client) SettleRound(ctx context.Context, id uint64) (*RoundResponse, error) {
	return signedCall[RoundResponse](ctx, c, MethodSettleRound, RoundRequest{RoundID: id})
}

func (c *Client) CancelRound(ctx context.Context, id uint64) (*RoundResponse, error) {
	return signedCall[RoundResponse](ctx, c, MethodCancelRound, RoundRequest{RoundID: id})
}

func (c *Client) GetRound(ctx context.Context, id uint64) (*RoundResponse, error) {
	return queryCall[RoundResponse](ctx, c, MethodGetRound, RoundRequest{RoundID: id})
}

func (c *Client) ListPending(ctx context.Context) (*PendingResponse, error) {
	return queryCall[PendingResponse](ctx, c, MethodPending, Empty{})
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return queryCall[StatusResponse](ctx, c, MethodStatus, Empty{})
}

func (c *Client) GetJoin(ctx context.Context, req JoinQuery) (*JoinResponse, error) {
	return queryCall[JoinResponse](ctx, c, MethodGetJoin, req)
}

func (c *Client) HaltKeeper(ctx context.Context, reason string) (*KeeperResponse, error) {
	return signedCall[KeeperResponse](ctx, c, MethodHaltKeeper, HaltRequest{Reason: reason})
}

func (c *Client) ResumeKeeper(ctx context.Context) (*KeeperResponse, error) {
	return signedCall[KeeperResponse](ctx, c, MethodResumeKeeper, Empty{})
}
