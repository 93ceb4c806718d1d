package auth

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing!!"

func TestGenerateAndParseAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("grower-1", []string{"floor1"}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "grower-1" {
		t.Errorf("Subject = %q, want grower-1", claims.Subject)
	}
	if !reflect.DeepEqual(claims.Floors, []string{"floor1"}) {
		t.Errorf("Floors = %v, want [floor1]", claims.Floors)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestGenerateAccessToken_DefaultTTL(t *testing.T) {
	token, err := GenerateAccessToken("grower-1", nil, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	diff := claims.ExpiresAt.Time.Sub(time.Now().Add(defaultTokenTTL))
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL should be ~15 minutes, got expiry diff of %v", diff)
	}
}

func signClaims(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateAccessToken("grower-1", nil, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{name: "garbage", token: "not-a-valid-jwt", secret: testSecret},
		{name: "empty", token: "", secret: testSecret},
		{name: "wrong secret", token: valid, secret: "another-secret-key-of-enough-length"},
		{
			name:   "expired",
			token:  signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ExpiresAt: past}}),
			secret: testSecret,
		},
		{
			name:   "no expiry",
			token:  signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}),
			secret: testSecret,
		},
		{
			name:   "missing subject",
			token:  signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}),
			secret: testSecret,
		},
		{
			name:   "HS512 not accepted",
			token:  signClaims(t, jwt.SigningMethodHS512, []byte(testSecret), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ExpiresAt: future}}),
			secret: testSecret,
		},
		{name: "issuer mismatch", token: valid, secret: testSecret, issuer: "identity.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseToken_Issuer(t *testing.T) {
	token := signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "grower-1",
		Issuer:    "identity.example",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	if _, err := ParseToken(token, testSecret, "identity.example"); err != nil {
		t.Errorf("ParseToken() with matching issuer error = %v", err)
	}
}

func TestClaims_Floors(t *testing.T) {
	all := &Claims{}
	scoped := &Claims{Floors: []string{"floor2", "floor3"}}
	floors := []string{"floor1", "floor2", "floor3"}

	if !all.CanAccessFloor("floor1") {
		t.Error("unscoped token should access every floor")
	}
	if scoped.CanAccessFloor("floor1") {
		t.Error("scoped token should not access floor1")
	}
	if !scoped.CanAccessFloor("floor3") {
		t.Error("scoped token should access floor3")
	}
	if got := all.FilterFloors(floors); !reflect.DeepEqual(got, floors) {
		t.Errorf("FilterFloors(all) = %v", got)
	}
	if got := scoped.FilterFloors(floors); !reflect.DeepEqual(got, []string{"floor2", "floor3"}) {
		t.Errorf("FilterFloors(scoped) = %v", got)
	}
}
