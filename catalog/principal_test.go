package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvedName_SuffixPerEnvironment(t *testing.T) {
	group := NewGroup("data_owners")
	assert.Equal(t, "data_owners_dev", group.ResolvedName(EnvDev))
	assert.Equal(t, "data_owners_acc", group.ResolvedName(EnvAcc))
	assert.Equal(t, "data_owners_prd", group.ResolvedName(EnvPrd))
}

func TestResolvedName_UsersNeverSuffixed(t *testing.T) {
	user := NewUser("alice@example.com")
	user.AddEnvironmentSuffix = true

	assert.Equal(t, "alice@example.com", user.ResolvedName(EnvPrd))
}

func TestResolvedName_MappingWins(t *testing.T) {
	sp := NewServicePrincipal("etl_runner").WithMapping(map[Environment]string{
		EnvPrd: "etl-runner-prod-sp",
	})

	assert.Equal(t, "etl-runner-prod-sp", sp.ResolvedName(EnvPrd))
	assert.Equal(t, "etl_runner_dev", sp.ResolvedName(EnvDev), "unmapped env falls back to suffixing")
}

func TestResolvedName_SuffixDisabled(t *testing.T) {
	group := NewGroup("platform_admins")
	group.AddEnvironmentSuffix = false

	assert.Equal(t, "platform_admins", group.ResolvedName(EnvAcc))
}

func TestResolvedName_Pure(t *testing.T) {
	sp := NewServicePrincipal("svc")
	first := sp.ResolvedName(EnvAcc)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, sp.ResolvedName(EnvAcc))
	}
}
