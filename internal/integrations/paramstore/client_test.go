package paramstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func valueOut(v string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p"), Value: aws.String(v)}}
}

func mustNew(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	c, err := New(api)
	require.NoError(t, err)
	return c
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: valueOut("secret-value")}
	v, err := mustNew(t, api).GetParameter(context.Background(), " /relaybot/openai-api-key ")
	require.NoError(t, err)
	require.Equal(t, "secret-value", v)
	require.Equal(t, "/relaybot/openai-api-key", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p")}}}
	_, err := mustNew(t, api).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_NotFound(t *testing.T) {
	api := &fakeAPI{getErr: fmt.Errorf("operation error: %w", &types.ParameterNotFound{Message: aws.String("nope")})}
	_, err := mustNew(t, api).GetParameter(context.Background(), "p")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	_, err := mustNew(t, api).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	_, err := mustNew(t, &fakeAPI{}).GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestGetSecret(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr string
	}{
		{name: "raw", raw: "sk-raw\n", want: "sk-raw"},
		{name: "json token", raw: `{"token":"sk-from-json"}`, want: "sk-from-json"},
		{name: "json missing token", raw: `{"other":"value"}`, wantErr: "token is empty"},
		{name: "malformed json", raw: `{"broken`, wantErr: "unmarshal"},
		{name: "blank", raw: "   ", wantErr: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mustNew(t, &fakeAPI{getOut: valueOut(tc.raw)}).GetSecret(context.Background(), "p")
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestGetSecret_PropagatesNotFound(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{}}
	_, err := mustNew(t, api).GetSecret(context.Background(), "p")
	require.ErrorIs(t, err, ErrNotFound)
}
