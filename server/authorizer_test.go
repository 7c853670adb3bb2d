package server

import "testing"

func TestAddUserAuthsUser(t *testing.T) {
	AddUser("foo", "bar")
	err := DefaultAuthorizer.Authorize("foo", "bar")
	if err != nil {
		t.Fatalf("expected foo/bar to authorize, got %v", err)
	}

	err = DefaultAuthorizer.Authorize("foo", "wrongpassword")
	if err == nil {
		t.Fatal("expected an error with a wrong password, got nil")
	}
	if err.Title != "Incorrect password for user foo" {
		t.Errorf("wrong error title: %q", err.Title)
	}

	err = DefaultAuthorizer.Authorize("Unknownuser", "wrongpassword")
	if err == nil {
		t.Fatal("expected an error with an unknown user, got nil")
	}
	if err.Title != "Username or password are invalid. Please double check your credentials" {
		t.Errorf("wrong error title: %q", err.Title)
	}
}

func TestUnsafeBypassAuthorizer(t *testing.T) {
	u := new(UnsafeBypassAuthorizer)
	if err := u.Authorize("anyone", "anything"); err != nil {
		t.Errorf("bypass authorizer rejected a request: %v", err)
	}
}
