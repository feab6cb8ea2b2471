package sshcore

import "testing"

func TestCheckCommand_NilAllowlistAdmitsEverything(t *testing.T) {
	if err := CheckCommand("web1", "rm -rf /; echo pwned", nil); err != nil {
		t.Fatalf("nil allowlist should admit anything, got: %v", err)
	}
}

func TestCheckCommand_MetacharactersRejected(t *testing.T) {
	allowed := []string{"ls", "cat"}
	cases := []string{
		"ls; rm -rf /",
		"ls && cat /etc/passwd",
		"ls | grep foo",
		"cat `whoami`",
		"cat $(whoami)",
		"ls > /tmp/out",
		"ls < /etc/passwd",
		"echo \"hi\"",
		"echo 'hi'",
		"ls\ncat /etc/passwd",
	}
	for _, cmd := range cases {
		err := CheckCommand("web1", cmd, allowed)
		if err == nil {
			t.Errorf("expected rejection for %q", cmd)
			continue
		}
		var pd *PermissionDeniedError
		if !asPermissionDenied(err, &pd) {
			t.Errorf("expected *PermissionDeniedError for %q, got %T", cmd, err)
		}
	}
}

func TestCheckCommand_BraceAndBangNotTreatedAsMeta(t *testing.T) {
	// '!' and '{' '}' are deliberately not in the metacharacter set.
	allowed := []string{"echo"}
	if err := CheckCommand("web1", "echo {1,2,3}", allowed); err != nil {
		t.Fatalf("braces must not be rejected as metacharacters: %v", err)
	}
	if err := CheckCommand("web1", "echo hi!", allowed); err != nil {
		t.Fatalf("'!' must not be rejected as a metacharacter: %v", err)
	}
}

func TestCheckCommand_AllowlistEnforced(t *testing.T) {
	allowed := []string{"ls", "df"}
	if err := CheckCommand("web1", "ls -la /var", allowed); err != nil {
		t.Fatalf("ls should be allowed: %v", err)
	}
	if err := CheckCommand("web1", "df -h", allowed); err != nil {
		t.Fatalf("df should be allowed: %v", err)
	}
	err := CheckCommand("web1", "rm -rf /tmp", allowed)
	if err == nil {
		t.Fatal("expected rm to be rejected")
	}
	var pd *PermissionDeniedError
	if !asPermissionDenied(err, &pd) {
		t.Fatalf("expected *PermissionDeniedError, got %T", err)
	}
}

func TestCheckCommand_BlankCommand(t *testing.T) {
	allowed := []string{"ls"}
	if err := CheckCommand("web1", "   ", allowed); err == nil {
		t.Fatal("expected blank command to be rejected (base command '' not allowlisted)")
	}
}

func TestBaseCommand(t *testing.T) {
	cases := map[string]string{
		"ls -la /var":  "ls",
		"  df -h  ":    "df",
		"":              "",
		"   ":           "",
		"systemctl restart nginx": "systemctl",
	}
	for in, want := range cases {
		if got := baseCommand(in); got != want {
			t.Errorf("baseCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func asPermissionDenied(err error, target **PermissionDeniedError) bool {
	pd, ok := err.(*PermissionDeniedError)
	if ok {
		*target = pd
	}
	return ok
}
