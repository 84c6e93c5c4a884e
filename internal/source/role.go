package source

import (
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// RoleSessionName names the sessions opened on user roles.
const RoleSessionName = "CloudProofIngestion"

// NewSTSClient builds an STS client signing with the static credentials of cfg.
// STS keeps the default AWS endpoint even when cfg points S3 elsewhere.
func NewSTSClient(cfg S3Config) (*sts.Client, error) {
	provider, err := staticCredentials(cfg)
	if err != nil {
		return nil, err
	}
	return sts.New(sts.Options{Region: region(cfg), Credentials: provider}), nil
}

// ClientPool hands out one S3 client per user role. Users without a role share the
// base client built from the static credentials.
type ClientPool struct {
	cfg  S3Config
	base S3API
	sts  stscreds.AssumeRoleAPIClient

	mu     sync.Mutex
	byRole map[string]*s3.Client
}

// Client returns the client for roleARN. Role clients assume the role on first use
// and refresh the temporary credentials before they expire.
func (p *ClientPool) Client(roleARN string) (S3API, error) {
	if roleARN == "" {
		if p.base == nil {
			return nil, errors.New("no static s3 credentials for users without a role")
		}
		return p.base, nil
	}
	if p.sts == nil {
		return nil, errors.New("no sts client to assume " + roleARN)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if client, found := p.byRole[roleARN]; found {
		return client, nil
	}
	provider := stscreds.NewAssumeRoleProvider(p.sts, roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = RoleSessionName
	})
	client := s3.New(s3Options(p.cfg, aws.NewCredentialsCache(provider)))
	p.byRole[roleARN] = client
	return client, nil
}

// Len returns the number of role clients created so far.
func (p *ClientPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byRole)
}

// NewClientPool creates a pool. base serves users without a role and stsClient
// assumes user roles; either may be nil, which fails the matching users.
func NewClientPool(cfg S3Config, base S3API, stsClient stscreds.AssumeRoleAPIClient) *ClientPool {
	return &ClientPool{
		cfg:    cfg,
		base:   base,
		sts:    stsClient,
		byRole: make(map[string]*s3.Client),
	}
}
