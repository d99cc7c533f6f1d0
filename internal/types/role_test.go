package types

import "testing"

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		in   Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleSystem, true},
		{"tool", false},
		{"User", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.in.Valid(); got != tt.want {
			t.Errorf("Role(%q).Valid() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeChatRequest_RoleMessage(t *testing.T) {
	_, err := DecodeChatRequest([]byte(`{"model":"m","messages":[{"role":"tool","content":"x"}]}`))
	fields := fieldsOf(t, err)
	if got := fields["messages[0].role"]; got != "must be one of: user, assistant, system" {
		t.Errorf("role message = %q", got)
	}
}
