package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/taptalk/backend/internal/logger"
)

type fakeChatModel struct {
	reply *schema.Message
	err   error
	block bool
	input []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func arkWith(fake *fakeChatModel, gotKey *string) *ArkGateway {
	return NewArkGateway(func(_ context.Context, apiKey string) (model.BaseChatModel, error) {
		*gotKey = apiKey
		return fake, nil
	}, time.Second, logger.New("error"))
}

func TestArkCompleteSendsSingleUserTurn(t *testing.T) {
	req := require.New(t)
	var key string
	fake := &fakeChatModel{reply: schema.AssistantMessage("Hi there", nil)}

	text, err := arkWith(fake, &key).Complete(context.Background(), "Hello", testKey)
	req.NoError(err)
	req.Equal("Hi there", text)
	req.Equal(testKey, key)
	req.Len(fake.input, 1)
	req.Equal(schema.User, fake.input[0].Role)
	req.Equal("Hello", fake.input[0].Content)
}

func TestArkCompleteErrors(t *testing.T) {
	var key string

	_, err := arkWith(&fakeChatModel{}, &key).Complete(context.Background(), "Hello", "")
	require.ErrorIs(t, err, ErrMissingCredential)

	_, err = arkWith(&fakeChatModel{err: errors.New("quota exceeded")}, &key).Complete(context.Background(), "Hello", testKey)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, "quota exceeded", upstream.Message)

	_, err = arkWith(&fakeChatModel{reply: schema.AssistantMessage("", nil)}, &key).Complete(context.Background(), "Hello", testKey)
	require.ErrorIs(t, err, ErrMalformedResponse)

	gw := arkWith(&fakeChatModel{block: true}, &key)
	gw.timeout = 20 * time.Millisecond
	_, err = gw.Complete(context.Background(), "Hello", testKey)
	require.ErrorIs(t, err, ErrUpstreamTimeout)
}

func TestEchoComplete(t *testing.T) {
	text, err := EchoGateway{}.Complete(context.Background(), "ping", testKey)
	require.NoError(t, err)
	require.Equal(t, "ping", text)

	_, err = EchoGateway{}.Complete(context.Background(), "ping", "")
	require.ErrorIs(t, err, ErrMissingCredential)
}
