package acl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyACLAllowsEverything(t *testing.T) {
	a := New()
	require.True(t, a.VerifyString("203.0.113.4"))
}

func TestCIDRRuleAdmitsMatchingAddress(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("10.0.0.0/8"))

	require.True(t, a.VerifyString("10.1.2.3"))
	require.False(t, a.VerifyString("192.168.1.1"))
}

func TestBareHostRuleIsExactMatch(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("192.168.1.50"))

	require.True(t, a.VerifyString("192.168.1.50"))
	require.False(t, a.VerifyString("192.168.1.51"))
}

func TestDelRemovesRule(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("10.0.0.0/8"))
	// a second rule keeps the ACL non-empty, since an empty ACL admits all.
	require.NoError(t, a.Add("192.168.0.0/16"))
	require.True(t, a.VerifyString("10.1.2.3"))

	a.Del("10.0.0.0/8")
	require.False(t, a.VerifyString("10.1.2.3"))
}

func TestAddRejectsGarbage(t *testing.T) {
	a := New()
	require.Error(t, a.Add("not-an-ip"))
}

func TestRulesSnapshot(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("10.0.0.0/8"))
	require.NoError(t, a.Add("172.16.0.0/12"))

	rules := a.Rules()
	require.ElementsMatch(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, rules)
}
