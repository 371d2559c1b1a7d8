package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/biodata-api/internal/auth"
	"github.com/PaulBabatuyi/biodata-api/internal/data"
	"github.com/PaulBabatuyi/biodata-api/internal/middleware"
	"github.com/PaulBabatuyi/biodata-api/internal/payment"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// fakeUsers is an in-memory usersStore.
type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*data.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{users: map[string]*data.User{}} }

func (f *fakeUsers) EnsureUser(_ context.Context, nu data.NewUser) (*data.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(nu.Email))
	if u, ok := f.users[email]; ok {
		return u, false, nil
	}
	u := &data.User{ID: bson.NewObjectID(), Email: email, Name: nu.Name, Role: data.RoleUser, Favourites: []int{}}
	f.users[email] = u
	return u, true, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*data.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return nil, data.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) RoleOf(ctx context.Context, email string) (data.Role, error) {
	u, err := f.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

func (f *fakeUsers) AddFavourite(_ context.Context, email string, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return data.ErrNotFound
	}
	for _, v := range u.Favourites {
		if v == id {
			return nil
		}
	}
	u.Favourites = append(u.Favourites, id)
	return nil
}

func (f *fakeUsers) RemoveFavourite(_ context.Context, email string, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return data.ErrNotFound
	}
	out := u.Favourites[:0]
	for _, v := range u.Favourites {
		if v != id {
			out = append(out, v)
		}
	}
	u.Favourites = out
	return nil
}

func (f *fakeUsers) SetRole(_ context.Context, email string, role data.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok {
		return data.ErrNotFound
	}
	u.Role = role
	return nil
}

func (f *fakeUsers) MarkPremiumRequested(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[email]; ok && u.Role != data.RoleAdmin {
		u.Role = data.RolePremiumRequested
	}
	return nil
}

func (f *fakeUsers) List(_ context.Context, pattern string) ([]*data.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*data.User{}
	for _, u := range f.users {
		if pattern == "" || strings.Contains(strings.ToLower(u.Name), strings.ToLower(pattern)) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// fakeBiodatas is an in-memory biodatasStore that records the last list call.
type fakeBiodatas struct {
	items      []*data.Biodata
	lastFilter bson.D
	lastSkip   int64
	lastLimit  int64
	lastSet    bson.D
}

func (f *fakeBiodatas) Create(_ context.Context, owner string, b *data.Biodata) (*data.Biodata, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	for _, x := range f.items {
		if x.ContactEmail == owner {
			return nil, data.ErrDuplicate
		}
	}
	b.BiodataID = len(f.items) + 1
	b.ContactEmail = owner
	b.IsPremium = false
	f.items = append(f.items, b)
	return b, nil
}

func (f *fakeBiodatas) GetByBiodataID(_ context.Context, id int) (*data.Biodata, error) {
	for _, b := range f.items {
		if b.BiodataID == id {
			return b, nil
		}
	}
	return nil, data.ErrNotFound
}

func (f *fakeBiodatas) GetByEmail(_ context.Context, email string) (*data.Biodata, error) {
	for _, b := range f.items {
		if b.ContactEmail == email {
			return b, nil
		}
	}
	return nil, data.ErrNotFound
}

func (f *fakeBiodatas) Similar(_ context.Context, b *data.Biodata) ([]*data.Biodata, error) {
	out := []*data.Biodata{}
	for _, x := range f.items {
		if x.BiodataType == b.BiodataType && x.BiodataID != b.BiodataID && len(out) < data.SimilarLimit {
			out = append(out, x)
		}
	}
	return out, nil
}

// List evaluates the listing filter against the stored items so the
// count and the page come from the same predicate, as in the store.
func (f *fakeBiodatas) List(_ context.Context, filter, _ bson.D, skip, limit int64) ([]*data.Biodata, int64, error) {
	f.lastFilter, f.lastSkip, f.lastLimit = filter, skip, limit
	var matched []*data.Biodata
	for _, b := range f.items {
		ok, err := matchesFilter(b, filter)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, b)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].BiodataID < matched[j].BiodataID })

	page := []*data.Biodata{}
	for i := skip; i < int64(len(matched)) && i < skip+limit; i++ {
		page = append(page, matched[i])
	}
	return page, int64(len(matched)), nil
}

func matchesFilter(b *data.Biodata, filter bson.D) (bool, error) {
	for _, e := range filter {
		switch e.Key {
		case "biodataType":
			if b.BiodataType != e.Value {
				return false, nil
			}
		case "presentDivision":
			if b.PresentDivision != e.Value {
				return false, nil
			}
		case "age":
			bounds, ok := e.Value.(bson.D)
			if !ok {
				return false, fmt.Errorf("age filter is %T", e.Value)
			}
			for _, op := range bounds {
				n, ok := op.Value.(int)
				if !ok {
					return false, fmt.Errorf("age bound is %T", op.Value)
				}
				switch op.Key {
				case "$gte":
					if b.Age < n {
						return false, nil
					}
				case "$lte":
					if b.Age > n {
						return false, nil
					}
				default:
					return false, fmt.Errorf("unexpected age operator %s", op.Key)
				}
			}
		default:
			return false, fmt.Errorf("unexpected filter key %s", e.Key)
		}
	}
	return true, nil
}

func (f *fakeBiodatas) ListPremium(context.Context, bson.D, int64) ([]*data.Biodata, error) {
	return []*data.Biodata{}, nil
}

func (f *fakeBiodatas) ListByIDs(_ context.Context, ids []int) ([]*data.Biodata, error) {
	out := []*data.Biodata{}
	for _, id := range ids {
		for _, b := range f.items {
			if b.BiodataID == id {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func (f *fakeBiodatas) Update(_ context.Context, email string, set bson.D) (*data.Biodata, error) {
	f.lastSet = set
	for _, b := range f.items {
		if b.ContactEmail == email {
			return b, nil
		}
	}
	return nil, data.ErrNotFound
}

// fakePremium and fakeApprover model the premium workflow in memory.
type fakePremium struct {
	open map[string]*data.PremiumRequest
}

func (f *fakePremium) Create(_ context.Context, b *data.Biodata) (*data.PremiumRequest, error) {
	if _, ok := f.open[b.ContactEmail]; ok {
		return nil, data.ErrAlreadyRequested
	}
	req := &data.PremiumRequest{Email: b.ContactEmail, BiodataID: b.BiodataID, Status: data.StatusPending, Active: true}
	f.open[b.ContactEmail] = req
	return req, nil
}

func (f *fakePremium) ListOutstanding(context.Context) ([]*data.PremiumRequest, error) {
	out := []*data.PremiumRequest{}
	for _, r := range f.open {
		out = append(out, r)
	}
	return out, nil
}

type fakeApprover struct {
	premium  *fakePremium
	users    *fakeUsers
	biodatas *fakeBiodatas
}

func (a *fakeApprover) Approve(ctx context.Context, email string) (*data.PremiumRequest, error) {
	req, ok := a.premium.open[email]
	if !ok {
		return nil, data.ErrNotFound
	}
	u, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	u.IsPremiumMember = true
	b, err := a.biodatas.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	b.IsPremium = true
	req.Status, req.Active = data.StatusApproved, false
	delete(a.premium.open, email)
	return req, nil
}

// fakeContacts stores requests and redacts them like the aggregation does.
type fakeContacts struct {
	reqs []*data.ContactRequest
}

func (f *fakeContacts) Create(_ context.Context, req *data.ContactRequest) (*data.ContactRequest, error) {
	req.ID = bson.NewObjectID()
	req.Status = data.StatusPending
	req.Amount = data.ContactFee
	f.reqs = append(f.reqs, req)
	return req, nil
}

func (f *fakeContacts) ListForRequester(_ context.Context, email string) ([]*data.ContactRequest, error) {
	out := []*data.ContactRequest{}
	for _, r := range f.reqs {
		if r.RequesterEmail == email {
			red := r.Redacted()
			out = append(out, &red)
		}
	}
	return out, nil
}

func (f *fakeContacts) ListAll(context.Context) ([]*data.ContactRequest, error) { return f.reqs, nil }

func (f *fakeContacts) Approve(_ context.Context, id bson.ObjectID) (*data.ContactRequest, error) {
	for _, r := range f.reqs {
		if r.ID == id {
			r.Status = data.StatusApproved
			return r, nil
		}
	}
	return nil, data.ErrNotFound
}

func (f *fakeContacts) Delete(_ context.Context, id bson.ObjectID, email string) error {
	for i, r := range f.reqs {
		if r.ID == id && r.RequesterEmail == email {
			f.reqs = append(f.reqs[:i], f.reqs[i+1:]...)
			return nil
		}
	}
	return data.ErrNotFound
}

type fakeStories struct{ lastSort bson.D }

func (f *fakeStories) Create(_ context.Context, email string, s *data.SuccessStory) (*data.SuccessStory, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.StoryID = 1
	s.CreatedBy = email
	return s, nil
}

func (f *fakeStories) List(_ context.Context, sortBy bson.D) ([]*data.SuccessStory, error) {
	f.lastSort = sortBy
	return []*data.SuccessStory{}, nil
}

type fakeStats struct{}

func (fakeStats) Public(context.Context) (*data.PublicStats, error) {
	return &data.PublicStats{TotalBiodatas: 3, MaleBiodatas: 1, FemaleBiodatas: 2}, nil
}

func (fakeStats) Admin(context.Context) (*data.AdminStats, error) {
	return &data.AdminStats{PremiumBiodatas: 1, RevenueMinor: 1000}, nil
}

type fakePayments struct{ err error }

func (f *fakePayments) CreateIntent(_ context.Context, amount int64, currency string) (*payment.Intent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &payment.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Amount: amount, Currency: currency}, nil
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	jwt      *auth.JWTManager
	users    *fakeUsers
	biodatas *fakeBiodatas
	contacts *fakeContacts
	stories  *fakeStories
	payments *fakePayments
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	users := newFakeUsers()
	biodatas := &fakeBiodatas{}
	premium := &fakePremium{open: map[string]*data.PremiumRequest{}}
	env := &testEnv{
		jwt:      auth.NewJWTManager("test-secret", time.Hour),
		users:    users,
		biodatas: biodatas,
		contacts: &fakeContacts{},
		stories:  &fakeStories{},
		payments: &fakePayments{},
	}
	srv := &Server{
		users:    users,
		biodatas: biodatas,
		premium:  premium,
		approver: &fakeApprover{premium: premium, users: users, biodatas: biodatas},
		contacts: env.contacts,
		stories:  env.stories,
		stats:    fakeStats{},
		payments: env.payments,
		tokens:   env.jwt,
		currency: "usd",
	}
	env.srv = srv
	env.handler = srv.routes(routerOptions{AllowedOrigins: []string{"http://localhost:5173"}})
	return env
}

// do sends a request as email (anonymous when empty) and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, email string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		token, _, err := e.jwt.GenerateToken(email)
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestIssueTokenSetsCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/jwt", "", map[string]string{"email": " A@X.com "})
	expectStatus(t, rec, http.StatusOK)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.Value == "" {
		t.Fatalf("expected HttpOnly token cookie, got %+v", cookie)
	}
	claims, err := env.jwt.VerifyToken(cookie.Value)
	if err != nil || claims.Email != "a@x.com" {
		t.Fatalf("cookie token invalid: %v %+v", err, claims)
	}

	rec = env.do(t, http.MethodPost, "/jwt", "", map[string]string{})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/logout", "", nil)
	expectStatus(t, rec, http.StatusOK)
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName && c.MaxAge >= 0 {
			t.Fatalf("expected expired cookie on logout, got %+v", c)
		}
	}
}

func TestCreateUserIdempotent(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"email": "new@x.com", "name": "New"}

	expectStatus(t, env.do(t, http.MethodPost, "/users", "", body), http.StatusCreated)
	rec := env.do(t, http.MethodPost, "/users", "", body)
	expectStatus(t, rec, http.StatusOK)

	var u data.User
	decode(t, rec, &u)
	if u.Role != data.RoleUser || u.Email != "new@x.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(env.users.users) != 1 {
		t.Fatalf("expected one user, got %d", len(env.users.users))
	}
}

func TestAdminRouteGate(t *testing.T) {
	env := newTestEnv(t)
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "user@x.com"})
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "admin@x.com"})
	_ = env.users.SetRole(context.Background(), "admin@x.com", data.RoleAdmin)

	expectStatus(t, env.do(t, http.MethodGet, "/admin/stats", "", nil), http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "forged"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)

	expectStatus(t, env.do(t, http.MethodGet, "/admin/stats", "user@x.com", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodGet, "/admin/stats", "admin@x.com", nil), http.StatusOK)

	// demotion is effective on the next request
	_ = env.users.SetRole(context.Background(), "admin@x.com", data.RoleUser)
	expectStatus(t, env.do(t, http.MethodGet, "/admin/stats", "admin@x.com", nil), http.StatusForbidden)
}

// seedListing stores 60 biodatas spread over both types, two divisions and
// ages 20..34.
func seedListing(env *testEnv) {
	for i := 0; i < 60; i++ {
		b := &data.Biodata{
			BiodataID:       i + 1,
			Name:            fmt.Sprintf("b%d", i+1),
			BiodataType:     data.TypeMale,
			PresentDivision: "Dhaka",
			Age:             20 + i%15,
		}
		if i%2 == 0 {
			b.BiodataType = data.TypeFemale
		}
		if i%3 == 2 {
			b.PresentDivision = "Sylhet"
		}
		env.biodatas.items = append(env.biodatas.items, b)
	}
}

type listingPage struct {
	Biodatas        []data.Biodata `json:"biodatas"`
	TotalCount      int64          `json:"totalCount"`
	TotalPageNumber int64          `json:"totalPageNumber"`
	Page            int            `json:"page"`
	MinAge          *int           `json:"minAge"`
	MaxAge          *int           `json:"maxAge"`
}

func TestListBiodatasScenario(t *testing.T) {
	env := newTestEnv(t)
	seedListing(env)

	rec := env.do(t, http.MethodGet, "/biodatas?type=female&division=dha&minAge=25&maxAge=30&page=1&limit=10", "", nil)
	expectStatus(t, rec, http.StatusOK)

	want := bson.D{
		{Key: "biodataType", Value: "Female"},
		{Key: "presentDivision", Value: "Dhaka"},
		{Key: "age", Value: bson.D{{Key: "$gte", Value: 25}, {Key: "$lte", Value: 30}}},
	}
	got, _ := bson.Marshal(env.biodatas.lastFilter)
	exp, _ := bson.Marshal(want)
	if !bytes.Equal(got, exp) {
		t.Fatalf("filter mismatch: got %v want %v", env.biodatas.lastFilter, want)
	}
	if env.biodatas.lastSkip != 0 || env.biodatas.lastLimit != 10 {
		t.Fatalf("unexpected skip/limit %d/%d", env.biodatas.lastSkip, env.biodatas.lastLimit)
	}

	var expected int64
	for _, b := range env.biodatas.items {
		if b.BiodataType == data.TypeFemale && b.PresentDivision == "Dhaka" && b.Age >= 25 && b.Age <= 30 {
			expected++
		}
	}
	if expected == 0 {
		t.Fatal("seed produced no matching biodatas")
	}

	var page listingPage
	decode(t, rec, &page)
	if page.TotalCount != expected {
		t.Fatalf("expected totalCount %d, got %d", expected, page.TotalCount)
	}
	if page.TotalPageNumber != (expected+9)/10 {
		t.Fatalf("expected %d pages, got %d", (expected+9)/10, page.TotalPageNumber)
	}
	if page.MinAge == nil || *page.MinAge != 25 || page.MaxAge == nil || *page.MaxAge != 30 {
		t.Fatalf("unexpected age echo: %v %v", page.MinAge, page.MaxAge)
	}
	for _, b := range page.Biodatas {
		if b.Age < 25 || b.Age > 30 || b.BiodataType != data.TypeFemale || b.PresentDivision != "Dhaka" {
			t.Fatalf("biodata %d outside the requested filter: %+v", b.BiodataID, b)
		}
	}

	// walking every page returns each match exactly once
	seen := map[int]bool{}
	for p := int64(1); p <= page.TotalPageNumber; p++ {
		rec := env.do(t, http.MethodGet, fmt.Sprintf("/biodatas?type=female&division=dha&minAge=25&maxAge=30&page=%d&limit=2", p), "", nil)
		expectStatus(t, rec, http.StatusOK)
		var pg listingPage
		decode(t, rec, &pg)
		for _, b := range pg.Biodatas {
			if seen[b.BiodataID] {
				t.Fatalf("biodata %d returned twice", b.BiodataID)
			}
			seen[b.BiodataID] = true
		}
	}
	if int64(len(seen)) != expected {
		t.Fatalf("expected %d biodatas across pages, got %d", expected, len(seen))
	}
}

func TestListBiodatasUnknownCodes(t *testing.T) {
	env := newTestEnv(t)
	seedListing(env)

	rec := env.do(t, http.MethodGet, "/biodatas?type=male&division=xyz&limit=100", "", nil)
	expectStatus(t, rec, http.StatusOK)
	var page listingPage
	decode(t, rec, &page)
	if page.TotalCount != 30 {
		t.Fatalf("unknown division should not constrain: expected 30 males, got %d", page.TotalCount)
	}

	rec = env.do(t, http.MethodGet, "/biodatas?type=other&minAge=33", "", nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &page)
	if page.TotalCount != 8 {
		t.Fatalf("expected 8 biodatas aged 33 or 34, got %d", page.TotalCount)
	}
}

func TestListBiodatasRejects(t *testing.T) {
	env := newTestEnv(t)

	expectStatus(t, env.do(t, http.MethodGet, "/biodatas?page=abc", "", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/biodatas?limit=500", "", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/biodatas?page=9223372036854775807&limit=100", "", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/biodatas/premium?sort=random", "", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/success-stories?sort=oldest", "", nil), http.StatusOK)
	if env.stories.lastSort[0].Value != 1 {
		t.Fatalf("expected ascending story sort, got %v", env.stories.lastSort)
	}
}

// jwtFrom posts to /jwt from remoteAddr with the given X-Forwarded-For.
func jwtFrom(h http.Handler, remoteAddr, forwarded string) int {
	req := httptest.NewRequest(http.MethodPost, "/jwt", strings.NewReader(`{"email":"a@x.com"}`))
	req.RemoteAddr = remoteAddr
	if forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitKeysOnSocketAddress(t *testing.T) {
	env := newTestEnv(t)
	limiter := middleware.NewLimiterStore(1, 3, time.Minute)
	defer limiter.Stop()
	env.srv.limiter = limiter
	h := env.srv.routes(routerOptions{})

	ok := 0
	for i := 0; i < 20; i++ {
		if jwtFrom(h, "10.0.0.1:1234", fmt.Sprintf("203.0.113.%d", i)) == http.StatusOK {
			ok++
		}
	}
	if ok != 3 {
		t.Fatalf("rotating X-Forwarded-For from one socket: expected 3 allowed, got %d", ok)
	}
}

func TestRateLimitTrustedProxy(t *testing.T) {
	env := newTestEnv(t)
	limiter := middleware.NewLimiterStore(1, 1, time.Minute)
	defer limiter.Stop()
	env.srv.limiter = limiter
	h := env.srv.routes(routerOptions{TrustProxy: true})

	// distinct clients behind one proxy get their own budgets
	for i := 0; i < 5; i++ {
		if code := jwtFrom(h, "10.0.0.1:1234", fmt.Sprintf("203.0.113.%d", i)); code != http.StatusOK {
			t.Fatalf("client %d behind trusted proxy: expected 200, got %d", i, code)
		}
	}
	if code := jwtFrom(h, "10.0.0.1:1234", "203.0.113.0"); code != http.StatusTooManyRequests {
		t.Fatalf("repeat client behind trusted proxy: expected 429, got %d", code)
	}
}

func TestBiodataLifecycle(t *testing.T) {
	env := newTestEnv(t)

	b := map[string]interface{}{"name": "A", "biodataType": "Female", "age": 26, "presentDivision": "Dhaka", "isPremium": true}
	rec := env.do(t, http.MethodPost, "/biodatas", "a@x.com", b)
	expectStatus(t, rec, http.StatusCreated)
	var created data.Biodata
	decode(t, rec, &created)
	if created.BiodataID != 1 || created.IsPremium || created.ContactEmail != "a@x.com" {
		t.Fatalf("unexpected created biodata: %+v", created)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/biodatas", "a@x.com", b), http.StatusConflict)

	expectStatus(t, env.do(t, http.MethodPost, "/biodatas", "b@x.com", map[string]interface{}{"name": "B", "biodataType": "Female"}), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPost, "/biodatas", "c@x.com", map[string]interface{}{"name": "C", "biodataType": "Male"}), http.StatusCreated)

	expectStatus(t, env.do(t, http.MethodGet, "/biodatas/1", "", nil), http.StatusUnauthorized)
	rec = env.do(t, http.MethodGet, "/biodatas/1", "c@x.com", nil)
	expectStatus(t, rec, http.StatusOK)
	var detail struct {
		Biodata data.Biodata   `json:"biodata"`
		Similar []data.Biodata `json:"similar"`
	}
	decode(t, rec, &detail)
	if detail.Biodata.BiodataID != 1 || len(detail.Similar) != 1 || detail.Similar[0].BiodataID != 2 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/biodatas/99", "c@x.com", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, "/biodatas/abc", "c@x.com", nil), http.StatusBadRequest)

	rec = env.do(t, http.MethodPut, "/biodatas", "a@x.com", map[string]interface{}{
		"occupation": "Doctor", "contactEmail": "x@y.z", "biodataId": 7,
	})
	expectStatus(t, rec, http.StatusOK)
	if len(env.biodatas.lastSet) != 1 || env.biodatas.lastSet[0].Key != "occupation" {
		t.Fatalf("expected only occupation in $set, got %v", env.biodatas.lastSet)
	}
	expectStatus(t, env.do(t, http.MethodPut, "/biodatas", "a@x.com", map[string]interface{}{"isPremium": true}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPut, "/biodatas", "a@x.com", `{"age": 26.5}`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPut, "/biodatas", "a@x.com", `not json`), http.StatusBadRequest)
}

func TestFavourites(t *testing.T) {
	env := newTestEnv(t)
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "fan@x.com"})
	env.biodatas.items = []*data.Biodata{{BiodataID: 4, Name: "D", BiodataType: data.TypeMale}}

	for i := 0; i < 2; i++ {
		expectStatus(t, env.do(t, http.MethodPost, "/favourites/4", "fan@x.com", nil), http.StatusOK)
	}
	if favs := env.users.users["fan@x.com"].Favourites; len(favs) != 1 {
		t.Fatalf("expected one favourite, got %v", favs)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/favourites/5", "fan@x.com", nil), http.StatusNotFound)

	rec := env.do(t, http.MethodGet, "/favourites", "fan@x.com", nil)
	expectStatus(t, rec, http.StatusOK)
	var list []data.Biodata
	decode(t, rec, &list)
	if len(list) != 1 || list[0].BiodataID != 4 {
		t.Fatalf("unexpected favourites list: %+v", list)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/favourites/4", "fan@x.com", nil), http.StatusNoContent)
	if favs := env.users.users["fan@x.com"].Favourites; len(favs) != 0 {
		t.Fatalf("expected no favourites, got %v", favs)
	}
}

func TestContactRequestProjection(t *testing.T) {
	env := newTestEnv(t)
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "seeker@x.com", Name: "Seeker"})
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "admin@x.com"})
	_ = env.users.SetRole(context.Background(), "admin@x.com", data.RoleAdmin)
	env.biodatas.items = []*data.Biodata{{
		BiodataID: 9, Name: "Target", BiodataType: data.TypeFemale,
		ContactEmail: "target@x.com", MobileNumber: "01700000000",
	}}

	rec := env.do(t, http.MethodPost, "/payment-intents", "seeker@x.com", nil)
	expectStatus(t, rec, http.StatusOK)
	var intent intentResponse
	decode(t, rec, &intent)
	if intent.ClientSecret != "pi_1_secret" || intent.Amount != payment.Amount {
		t.Fatalf("unexpected intent: %+v", intent)
	}

	rec = env.do(t, http.MethodPost, "/contact-requests", "seeker@x.com", contactRequestBody{BiodataID: 9, TransactionID: "pi_1"})
	expectStatus(t, rec, http.StatusCreated)
	var created data.ContactRequest
	decode(t, rec, &created)
	if created.ContactEmail != "" || created.MobileNumber != "" || created.RequesterName != "Seeker" {
		t.Fatalf("unexpected created request: %+v", created)
	}

	mine := func() data.ContactRequest {
		rec := env.do(t, http.MethodGet, "/contact-requests/mine", "seeker@x.com", nil)
		expectStatus(t, rec, http.StatusOK)
		var raw []map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil || len(raw) != 1 {
			t.Fatalf("unexpected list %s (%v)", rec.Body.String(), err)
		}
		_, hasEmail := raw[0]["contactEmail"]
		_, hasPhone := raw[0]["mobileNumber"]
		approved := raw[0]["status"] == data.StatusApproved
		if hasEmail != approved || hasPhone != approved {
			t.Fatalf("status %v revealed email=%v phone=%v", raw[0]["status"], hasEmail, hasPhone)
		}
		var out data.ContactRequest
		b, _ := json.Marshal(raw[0])
		_ = json.Unmarshal(b, &out)
		return out
	}

	pending := mine()
	expectStatus(t, env.do(t, http.MethodPatch, "/contact-requests/"+pending.ID.Hex()+"/approve", "seeker@x.com", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPatch, "/contact-requests/"+pending.ID.Hex()+"/approve", "admin@x.com", nil), http.StatusOK)
	if approved := mine(); approved.ContactEmail != "target@x.com" || approved.MobileNumber != "01700000000" {
		t.Fatalf("approved request should reveal contact details: %+v", approved)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/contact-requests", "target@x.com", contactRequestBody{BiodataID: 9, TransactionID: "pi_2"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodDelete, "/contact-requests/not-an-id", "seeker@x.com", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodDelete, "/contact-requests/"+pending.ID.Hex(), "seeker@x.com", nil), http.StatusNoContent)
}

func TestPaymentProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.payments.err = &payment.ProviderError{Status: http.StatusUnauthorized, Message: "invalid api key"}
	expectStatus(t, env.do(t, http.MethodPost, "/payment-intents", "a@x.com", nil), http.StatusBadGateway)
}

func TestPremiumApprovalScenario(t *testing.T) {
	env := newTestEnv(t)
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "a@x.com"})
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "admin@x.com"})
	_ = env.users.SetRole(context.Background(), "admin@x.com", data.RoleAdmin)

	expectStatus(t, env.do(t, http.MethodPatch, "/biodatas/premium-request", "a@x.com", nil), http.StatusNotFound)
	env.biodatas.items = []*data.Biodata{{BiodataID: 1, Name: "A", BiodataType: data.TypeFemale, ContactEmail: "a@x.com"}}

	expectStatus(t, env.do(t, http.MethodPatch, "/biodatas/premium-request", "a@x.com", nil), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPatch, "/biodatas/premium-request", "a@x.com", nil), http.StatusConflict)
	if role, _ := env.users.RoleOf(context.Background(), "a@x.com"); role != data.RolePremiumRequested {
		t.Fatalf("expected PremiumRequested, got %s", role)
	}

	rec := env.do(t, http.MethodGet, "/premium-requests", "admin@x.com", nil)
	expectStatus(t, rec, http.StatusOK)
	var open []data.PremiumRequest
	decode(t, rec, &open)
	if len(open) != 1 {
		t.Fatalf("expected one outstanding request, got %d", len(open))
	}

	rec = env.do(t, http.MethodPatch, "/premium-requests/a%40x.com/approve", "admin@x.com", nil)
	expectStatus(t, rec, http.StatusOK)
	var req data.PremiumRequest
	decode(t, rec, &req)
	if req.Status != data.StatusApproved {
		t.Fatalf("expected approved request, got %+v", req)
	}
	if !env.users.users["a@x.com"].IsPremiumMember || !env.biodatas.items[0].IsPremium {
		t.Fatal("expected user and biodata flipped to premium")
	}
	expectStatus(t, env.do(t, http.MethodPatch, "/biodatas/premium-request", "a@x.com", nil), http.StatusConflict)
}

func TestPremiumApprovalWithoutUserRecord(t *testing.T) {
	env := newTestEnv(t)
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "admin@x.com"})
	_ = env.users.SetRole(context.Background(), "admin@x.com", data.RoleAdmin)
	// biodata owner never called POST /users
	env.biodatas.items = []*data.Biodata{{BiodataID: 1, Name: "B", BiodataType: data.TypeMale, ContactEmail: "b@x.com"}}

	expectStatus(t, env.do(t, http.MethodPatch, "/biodatas/premium-request", "b@x.com", nil), http.StatusCreated)
	u, err := env.users.GetUserByEmail(context.Background(), "b@x.com")
	if err != nil {
		t.Fatalf("expected user record after premium request: %v", err)
	}
	if u.Role != data.RolePremiumRequested {
		t.Fatalf("expected PremiumRequested, got %s", u.Role)
	}

	expectStatus(t, env.do(t, http.MethodPatch, "/premium-requests/b@x.com/approve", "admin@x.com", nil), http.StatusOK)
	if !u.IsPremiumMember || !env.biodatas.items[0].IsPremium {
		t.Fatal("expected user and biodata flipped to premium")
	}
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t)
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "admin@x.com", Name: "Boss"})
	_, _, _ = env.users.EnsureUser(context.Background(), data.NewUser{Email: "u@x.com", Name: "Nadia"})
	_ = env.users.SetRole(context.Background(), "admin@x.com", data.RoleAdmin)

	rec := env.do(t, http.MethodGet, "/admin/users?search=nad", "admin@x.com", nil)
	expectStatus(t, rec, http.StatusOK)
	var users []data.User
	decode(t, rec, &users)
	if len(users) != 1 || users[0].Email != "u@x.com" {
		t.Fatalf("unexpected search result: %+v", users)
	}

	expectStatus(t, env.do(t, http.MethodPatch, "/admin/users/u@x.com/role", "admin@x.com", map[string]string{"role": "Root"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPatch, "/admin/users/admin@x.com/role", "admin@x.com", map[string]string{"role": "User"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPatch, "/admin/users/u@x.com/role", "admin@x.com", map[string]string{"role": "Admin"}), http.StatusOK)
	if env.users.users["u@x.com"].Role != data.RoleAdmin {
		t.Fatal("expected role change")
	}
	expectStatus(t, env.do(t, http.MethodPatch, "/admin/users/ghost@x.com/role", "admin@x.com", map[string]string{"role": "User"}), http.StatusNotFound)
}

func TestStoriesAndStats(t *testing.T) {
	env := newTestEnv(t)

	story := map[string]interface{}{
		"selfBiodataId": 1, "partnerBiodataId": 2, "rating": 6,
		"marriageDate": time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	}
	expectStatus(t, env.do(t, http.MethodPost, "/success-stories", "a@x.com", story), http.StatusBadRequest)
	story["rating"] = 5
	expectStatus(t, env.do(t, http.MethodPost, "/success-stories", "a@x.com", story), http.StatusCreated)

	rec := env.do(t, http.MethodGet, "/stats", "", nil)
	expectStatus(t, rec, http.StatusOK)
	var stats data.PublicStats
	decode(t, rec, &stats)
	if stats.TotalBiodatas != 3 || stats.FemaleBiodatas != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)
}
