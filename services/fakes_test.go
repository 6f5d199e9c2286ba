package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rplportal/events"
	"rplportal/models"
	"rplportal/payments"
)

// memStore - хранилище в памяти, реализующее все интерфейсы сервисного слоя.
// Пользователи и коды копируются по значению: у них есть поля с json:"-".
type memStore struct {
	mu        sync.Mutex
	apps      map[string]*models.Application
	initial   map[string]*models.InitialScreeningForm
	intakes   map[string]*models.StudentIntakeForm
	docs      map[string]*models.DocumentsForm
	users     map[string]*models.User
	twoFactor map[string]*models.TwoFactorAuth
	seq       int
	updates   int
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		apps:      map[string]*models.Application{},
		initial:   map[string]*models.InitialScreeningForm{},
		intakes:   map[string]*models.StudentIntakeForm{},
		docs:      map[string]*models.DocumentsForm{},
		users:     map[string]*models.User{},
		twoFactor: map[string]*models.TwoFactorAuth{},
	}
}

func clone[T any](t *T) *T {
	raw, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (m *memStore) putApp(a *models.Application) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[a.ID] = clone(a)
}

func (m *memStore) app(t *testing.T, id string) *models.Application {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		t.Fatalf("application %s not stored", id)
	}
	return clone(a)
}

func (m *memStore) putUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *memStore) putIntake(f *models.StudentIntakeForm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intakes[f.ID] = clone(f)
}

func (m *memStore) GetApplication(_ context.Context, id string) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(a), nil
}

func (m *memStore) ListApplications(_ context.Context) ([]models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Application
	for _, a := range m.apps {
		if !a.Archive {
			out = append(out, *clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) FindActivePaymentPlans(_ context.Context) ([]models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Application
	for _, a := range m.apps {
		if !a.Archive && a.HasActivePaymentPlan() {
			out = append(out, *clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindScheduledAutoDebits(_ context.Context, before time.Time) ([]models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Application
	for _, a := range m.apps {
		ad := a.AutoDebit
		if !a.Archive && ad != nil && ad.Enabled && ad.Status == models.DebitStatusScheduled && !ad.ScheduledDate.After(before) {
			out = append(out, *clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreateApplication(_ context.Context, app *models.Application, initial *models.InitialScreeningForm, intake *models.StudentIntakeForm, docs *models.DocumentsForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app.InitialFormID = initial.ID
	app.StudentFormID = intake.ID
	app.DocumentsFormID = docs.ID
	m.initial[initial.ID] = clone(initial)
	m.intakes[intake.ID] = clone(intake)
	m.docs[docs.ID] = clone(docs)
	m.apps[app.ID] = clone(app)
	return nil
}

func (m *memStore) UpdateApplication(_ context.Context, id string, fn func(*models.Application) error) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	a, ok := m.apps[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	work := clone(a)
	if err := fn(work); err != nil {
		return nil, err
	}
	m.updates++
	m.apps[id] = clone(work)
	return work, nil
}

func (m *memStore) NextApplicationID(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("APP%04d", m.seq), nil
}

func (m *memStore) GetStudentIntakeForm(_ context.Context, id string) (*models.StudentIntakeForm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.intakes[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(f), nil
}

func (m *memStore) SaveStudentIntakeForm(_ context.Context, form *models.StudentIntakeForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intakes[form.ID] = clone(form)
	return nil
}

func (m *memStore) GetDocumentsForm(_ context.Context, id string) (*models.DocumentsForm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.docs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(f), nil
}

func (m *memStore) SaveDocumentsForm(_ context.Context, form *models.DocumentsForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[form.ID] = clone(form)
	return nil
}

func (m *memStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) FindUsersByRole(_ context.Context, role models.Role) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SaveTwoFactor(_ context.Context, rec *models.TwoFactorAuth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.twoFactor[rec.UserID] = &cp
	return nil
}

func (m *memStore) GetTwoFactor(_ context.Context, userID string) (*models.TwoFactorAuth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.twoFactor[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) DeleteTwoFactor(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.twoFactor, userID)
	return nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

// fakeMailer запоминает отправленные письма
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendEmail(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

// count возвращает число писем шаблона key на адрес to
func (f *fakeMailer) count(to string, key Template) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	subject := emailCatalogue[key].subject
	n := 0
	for _, m := range f.sent {
		if m.to == to && m.subject == subject {
			n++
		}
	}
	return n
}

func (f *fakeMailer) last(to string) (sentMail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].to == to {
			return f.sent[i], true
		}
	}
	return sentMail{}, false
}

func (f *fakeMailer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeGateway возвращает заранее заданные ответы и запоминает запросы
type fakeGateway struct {
	mu       sync.Mutex
	requests []payments.ChargeRequest
	status   string
	err      error
	// failFor задает ошибку для конкретного PaymentMethodRef
	failFor map[string]error
}

func (g *fakeGateway) Charge(_ context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if err, ok := g.failFor[req.PaymentMethodRef]; ok {
		return payments.ChargeResult{}, err
	}
	if g.err != nil {
		return payments.ChargeResult{}, g.err
	}
	status := g.status
	if status == "" {
		status = payments.StatusCompleted
	}
	return payments.ChargeResult{Status: status, TransactionID: fmt.Sprintf("txn-%d", len(g.requests))}, nil
}

func (g *fakeGateway) calls() []payments.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.ChargeRequest(nil), g.requests...)
}

// fakeTokens выдает предсказуемые токены входа
type fakeTokens struct{ err error }

func (f fakeTokens) CreateLoginToken(userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "tok-" + userID, nil
}

// fakePublisher запоминает события
type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// fakeBlobStore хранит объекты в памяти
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	// failAfter - число успешных Put до ошибки; 0 - без ограничения
	failAfter int
	puts      int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (b *fakeBlobStore) Put(_ context.Context, key string, r io.Reader, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAfter > 0 && b.puts >= b.failAfter {
		return b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.puts++
	b.objects[key] = data
	return nil
}

func (b *fakeBlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBlobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

func (b *fakeBlobStore) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
