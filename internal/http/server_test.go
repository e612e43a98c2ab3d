package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/elkanatum/tarpaulin-api/internal/auth"
	"github.com/elkanatum/tarpaulin-api/internal/blob"
	"github.com/elkanatum/tarpaulin-api/internal/clients"
	"github.com/elkanatum/tarpaulin-api/internal/config"
	"github.com/elkanatum/tarpaulin-api/internal/db"
	"github.com/elkanatum/tarpaulin-api/internal/model"
)

type testEnv struct {
	app         *httptest.Server
	store       *db.MemoryStore
	bucket      *blob.MemoryBucket
	events      *recordingPublisher
	admin       model.User
	instructor  model.User
	instructor2 model.User
	student     model.User
	student2    model.User
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func (p *recordingPublisher) Close() error { return nil }

type stubLogin struct{}

func (stubLogin) Login(_ context.Context, username, password string) (string, error) {
	if username == "alice@example.com" && password == "correct" {
		return "issued-token", nil
	}
	return "", clients.ErrBadCredentials
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()
	env := &testEnv{store: store, bucket: blob.NewMemoryBucket(), events: &recordingPublisher{}}

	seed := []struct {
		sub  string
		role model.Role
		dst  *model.User
	}{
		{"auth0|admin", model.RoleAdmin, &env.admin},
		{"auth0|inst1", model.RoleInstructor, &env.instructor},
		{"auth0|inst2", model.RoleInstructor, &env.instructor2},
		{"auth0|stud1", model.RoleStudent, &env.student},
		{"auth0|stud2", model.RoleStudent, &env.student2},
	}
	for _, s := range seed {
		user, err := store.EnsureUser(ctx, s.sub, s.role)
		if err != nil {
			t.Fatalf("seed user: %v", err)
		}
		*s.dst = user
	}

	server, err := NewServer(config.Config{}, Dependencies{
		Store:   store,
		Bucket:  env.bucket,
		Decoder: auth.UnverifiedDecoder{},
		Login:   stubLogin{},
		Events:  env.events,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	env.app = httptest.NewServer(server.Router())
	t.Cleanup(env.app.Close)
	return env
}

func mustToken(t *testing.T, subject string) string {
	t.Helper()
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unused"))
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func doUpload(t *testing.T, url, token, filename string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = part.Write(data)
	} else if err := writer.WriteField("other", "value"); err != nil {
		t.Fatalf("form field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: expected %d, got %d (%s)", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

func (env *testEnv) createCourse(t *testing.T, subject string) courseResponse {
	t.Helper()
	resp := doReq(t, http.MethodPost, env.app.URL+"/courses", mustToken(t, env.admin.Subject), map[string]interface{}{
		"subject":       subject,
		"number":        "493",
		"title":         "Cloud Application Development",
		"term":          "fall-24",
		"instructor_id": env.instructor.ID,
	})
	expectStatus(t, resp, http.StatusCreated)
	var course courseResponse
	decodeBody(t, resp, &course)
	return course
}

func TestMalformedBearerIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	url := env.app.URL + "/users"
	token := mustToken(t, env.admin.Subject)

	headers := []string{"", "Bearer", token, "Basic " + token, "Bearer " + token + " extra", "Bearer not-a-jwt"}
	for _, header := range headers {
		req, _ := http.NewRequest(http.MethodGet, url, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("http error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, resp.StatusCode)
		}
	}

	resp := doReq(t, http.MethodGet, url, mustToken(t, "auth0|stranger"), nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["Error"] != "Unauthorized" {
		t.Fatalf("unexpected error body %v", body)
	}

	resp = doReq(t, http.MethodGet, url, token, nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestCreateCourse(t *testing.T) {
	env := newTestEnv(t)
	adminToken := mustToken(t, env.admin.Subject)

	course := env.createCourse(t, "CS")
	if course.ID <= 0 {
		t.Fatalf("expected numeric id, got %d", course.ID)
	}
	if course.Self != fmt.Sprintf("%s/courses/%d", env.app.URL, course.ID) {
		t.Fatalf("unexpected self link %q", course.Self)
	}

	// Non-instructor instructor_id is rejected and nothing is stored.
	resp := doReq(t, http.MethodPost, env.app.URL+"/courses", adminToken, map[string]interface{}{
		"subject": "MTH", "number": "231", "title": "Discrete", "term": "fall-24",
		"instructor_id": env.student.ID,
	})
	expectStatus(t, resp, http.StatusBadRequest)

	// Missing field.
	resp = doReq(t, http.MethodPost, env.app.URL+"/courses", adminToken, map[string]interface{}{
		"subject": "MTH", "number": "231", "title": "Discrete", "term": "fall-24",
	})
	expectStatus(t, resp, http.StatusBadRequest)
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["Error"] != "The request body is invalid" {
		t.Fatalf("unexpected error body %v", body)
	}

	courses, err := env.store.ListCourses(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("list courses: %v", err)
	}
	if len(courses) != 1 {
		t.Fatalf("expected only the valid course to be stored, got %d", len(courses))
	}

	// Only admins create courses.
	resp = doReq(t, http.MethodPost, env.app.URL+"/courses", mustToken(t, env.instructor.Subject), map[string]interface{}{
		"subject": "MTH", "number": "231", "title": "Discrete", "term": "fall-24",
		"instructor_id": env.instructor.ID,
	})
	expectStatus(t, resp, http.StatusForbidden)

	if keys := env.events.published(); len(keys) != 1 || keys[0] != "course.created" {
		t.Fatalf("unexpected events %v", keys)
	}
}

func TestListAndGetCourses(t *testing.T) {
	env := newTestEnv(t)
	for _, subject := range []string{"PH", "CS", "MTH", "ART"} {
		env.createCourse(t, subject)
	}

	resp := doReq(t, http.MethodGet, env.app.URL+"/courses", "", nil)
	expectStatus(t, resp, http.StatusOK)
	var page courseListResponse
	decodeBody(t, resp, &page)
	if len(page.Courses) != 3 {
		t.Fatalf("expected default page of 3, got %d", len(page.Courses))
	}
	if page.Courses[0].Subject != "ART" || page.Courses[1].Subject != "CS" || page.Courses[2].Subject != "MTH" {
		t.Fatalf("unexpected order %+v", page.Courses)
	}
	if page.Next != env.app.URL+"/courses?limit=3&offset=3" {
		t.Fatalf("unexpected next link %q", page.Next)
	}

	resp = doReq(t, http.MethodGet, page.Next, "", nil)
	expectStatus(t, resp, http.StatusOK)
	page = courseListResponse{}
	decodeBody(t, resp, &page)
	if len(page.Courses) != 1 || page.Courses[0].Subject != "PH" || page.Next != "" {
		t.Fatalf("unexpected last page %+v", page)
	}

	resp = doReq(t, http.MethodGet, env.app.URL+"/courses?limit=abc&offset=-4", "", nil)
	expectStatus(t, resp, http.StatusOK)
	page = courseListResponse{}
	decodeBody(t, resp, &page)
	if len(page.Courses) != 3 || page.Courses[0].Subject != "ART" {
		t.Fatalf("expected fallback paging, got %+v", page)
	}

	resp = doReq(t, http.MethodGet, env.app.URL+"/courses/"+fmt.Sprint(page.Courses[1].ID), "", nil)
	expectStatus(t, resp, http.StatusOK)
	var course courseResponse
	decodeBody(t, resp, &course)
	if course.Subject != "CS" || course.InstructorID != env.instructor.ID {
		t.Fatalf("unexpected course %+v", course)
	}

	resp = doReq(t, http.MethodGet, env.app.URL+"/courses/9999", "", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp = doReq(t, http.MethodGet, env.app.URL+"/courses/not-a-number", "", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestPatchCourse(t *testing.T) {
	env := newTestEnv(t)
	adminToken := mustToken(t, env.admin.Subject)
	course := env.createCourse(t, "CS")
	url := fmt.Sprintf("%s/courses/%d", env.app.URL, course.ID)

	resp := doReq(t, http.MethodPatch, url, adminToken, map[string]interface{}{
		"title":         "Advanced Cloud",
		"instructor_id": env.instructor2.ID,
	})
	expectStatus(t, resp, http.StatusOK)
	var updated courseResponse
	decodeBody(t, resp, &updated)
	if updated.Title != "Advanced Cloud" || updated.InstructorID != env.instructor2.ID || updated.Subject != "CS" {
		t.Fatalf("unexpected merge %+v", updated)
	}

	resp = doReq(t, http.MethodPatch, url, adminToken, map[string]interface{}{"instructor_id": env.student.ID})
	expectStatus(t, resp, http.StatusBadRequest)
	resp = doReq(t, http.MethodPatch, url, adminToken, `{"instructor_id": null}`)
	expectStatus(t, resp, http.StatusBadRequest)
	resp = doReq(t, http.MethodGet, url, "", nil)
	expectStatus(t, resp, http.StatusOK)
	var unchanged courseResponse
	decodeBody(t, resp, &unchanged)
	if unchanged.InstructorID != env.instructor2.ID {
		t.Fatalf("expected instructor to stay %d, got %d", env.instructor2.ID, unchanged.InstructorID)
	}
	resp = doReq(t, http.MethodPatch, url, adminToken, "{}")
	expectStatus(t, resp, http.StatusBadRequest)
	resp = doReq(t, http.MethodPatch, env.app.URL+"/courses/9999", adminToken, map[string]interface{}{"title": "x"})
	expectStatus(t, resp, http.StatusForbidden)
	resp = doReq(t, http.MethodPatch, url, mustToken(t, env.instructor2.Subject), map[string]interface{}{"title": "x"})
	expectStatus(t, resp, http.StatusForbidden)
}

func TestEnrollment(t *testing.T) {
	env := newTestEnv(t)
	course := env.createCourse(t, "CS")
	url := fmt.Sprintf("%s/courses/%d/students", env.app.URL, course.ID)
	instructorToken := mustToken(t, env.instructor.Subject)

	body := map[string]interface{}{"add": []int64{env.student.ID}, "remove": []int64{}}
	for i := 0; i < 2; i++ {
		resp := doReq(t, http.MethodPatch, url, instructorToken, body)
		expectStatus(t, resp, http.StatusOK)
	}
	resp := doReq(t, http.MethodGet, url, instructorToken, nil)
	expectStatus(t, resp, http.StatusOK)
	var students []int64
	decodeBody(t, resp, &students)
	if len(students) != 1 || students[0] != env.student.ID {
		t.Fatalf("expected single enrollment, got %v", students)
	}

	// Overlapping add and remove is a conflict with no writes.
	resp = doReq(t, http.MethodPatch, url, instructorToken, map[string]interface{}{
		"add":    []int64{env.student2.ID},
		"remove": []int64{env.student2.ID},
	})
	expectStatus(t, resp, http.StatusConflict)
	var errBody map[string]string
	decodeBody(t, resp, &errBody)
	if errBody["Error"] != "Enrollment data is invalid" {
		t.Fatalf("unexpected error body %v", errBody)
	}
	enrollments, err := env.store.ListEnrollments(context.Background(), db.EnrollmentFilter{CourseID: course.ID})
	if err != nil {
		t.Fatalf("list enrollments: %v", err)
	}
	if len(enrollments) != 1 {
		t.Fatalf("expected no writes on conflict, got %d enrollments", len(enrollments))
	}

	resp = doReq(t, http.MethodPatch, url, instructorToken, map[string]interface{}{"add": []int64{env.student2.ID}})
	expectStatus(t, resp, http.StatusConflict)
	resp = doReq(t, http.MethodPatch, url, instructorToken, map[string]interface{}{"add": []int64{env.instructor2.ID}, "remove": []int64{}})
	expectStatus(t, resp, http.StatusConflict)

	resp = doReq(t, http.MethodPatch, url, mustToken(t, env.admin.Subject), map[string]interface{}{
		"add":    []interface{}{env.student2.ID, nil},
		"remove": []int64{env.student.ID},
	})
	expectStatus(t, resp, http.StatusOK)
	resp = doReq(t, http.MethodGet, url, instructorToken, nil)
	expectStatus(t, resp, http.StatusOK)
	students = nil
	decodeBody(t, resp, &students)
	if len(students) != 1 || students[0] != env.student2.ID {
		t.Fatalf("unexpected enrollment %v", students)
	}
}

func TestEnrollmentAccessDenied(t *testing.T) {
	env := newTestEnv(t)
	course := env.createCourse(t, "CS")
	otherToken := mustToken(t, env.instructor2.Subject)

	url := fmt.Sprintf("%s/courses/%d/students", env.app.URL, course.ID)
	resp := doReq(t, http.MethodGet, url, otherToken, nil)
	expectStatus(t, resp, http.StatusForbidden)

	// Authorization is evaluated before the body.
	resp = doReq(t, http.MethodPatch, url, otherToken, "not json")
	expectStatus(t, resp, http.StatusForbidden)

	for _, missing := range []string{"/courses/9999/students", "/courses/abc/students"} {
		resp = doReq(t, http.MethodGet, env.app.URL+missing, otherToken, nil)
		expectStatus(t, resp, http.StatusForbidden)
		resp = doReq(t, http.MethodPatch, env.app.URL+missing, otherToken, map[string]interface{}{"add": []int64{}, "remove": []int64{}})
		expectStatus(t, resp, http.StatusForbidden)
	}

	resp = doReq(t, http.MethodGet, url, mustToken(t, env.student.Subject), nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp = doReq(t, http.MethodGet, url, "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestDeleteCourseCascades(t *testing.T) {
	env := newTestEnv(t)
	adminToken := mustToken(t, env.admin.Subject)
	course := env.createCourse(t, "CS")
	courseURL := fmt.Sprintf("%s/courses/%d", env.app.URL, course.ID)

	resp := doReq(t, http.MethodPatch, courseURL+"/students", adminToken, map[string]interface{}{
		"add":    []int64{env.student.ID, env.student2.ID},
		"remove": []int64{},
	})
	expectStatus(t, resp, http.StatusOK)

	resp = doReq(t, http.MethodDelete, courseURL, mustToken(t, env.instructor.Subject), nil)
	expectStatus(t, resp, http.StatusForbidden)

	resp = doReq(t, http.MethodDelete, courseURL, adminToken, nil)
	expectStatus(t, resp, http.StatusNoContent)

	enrollments, err := env.store.ListEnrollments(context.Background(), db.EnrollmentFilter{CourseID: course.ID})
	if err != nil {
		t.Fatalf("list enrollments: %v", err)
	}
	if len(enrollments) != 0 {
		t.Fatalf("expected enrollments to be deleted, got %d", len(enrollments))
	}
	resp = doReq(t, http.MethodGet, courseURL, "", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp = doReq(t, http.MethodDelete, courseURL, adminToken, nil)
	expectStatus(t, resp, http.StatusForbidden)
}

func TestUsers(t *testing.T) {
	env := newTestEnv(t)
	adminToken := mustToken(t, env.admin.Subject)
	studentToken := mustToken(t, env.student.Subject)
	course := env.createCourse(t, "CS")

	resp := doReq(t, http.MethodPatch, fmt.Sprintf("%s/courses/%d/students", env.app.URL, course.ID), adminToken,
		map[string]interface{}{"add": []int64{env.student.ID}, "remove": []int64{}})
	expectStatus(t, resp, http.StatusOK)

	resp = doReq(t, http.MethodGet, env.app.URL+"/users", adminToken, nil)
	expectStatus(t, resp, http.StatusOK)
	var users []userResponse
	decodeBody(t, resp, &users)
	if len(users) != 5 || users[0].Subject != env.admin.Subject {
		t.Fatalf("unexpected users %+v", users)
	}
	resp = doReq(t, http.MethodGet, env.app.URL+"/users", studentToken, nil)
	expectStatus(t, resp, http.StatusForbidden)

	resp = doReq(t, http.MethodGet, fmt.Sprintf("%s/users/%d", env.app.URL, env.student.ID), studentToken, nil)
	expectStatus(t, resp, http.StatusOK)
	var self map[string]interface{}
	decodeBody(t, resp, &self)
	courses, _ := self["courses"].([]interface{})
	if len(courses) != 1 || courses[0] != course.Self {
		t.Fatalf("expected student course list, got %v", self)
	}
	if _, ok := self["avatar_url"]; ok {
		t.Fatalf("expected no avatar_url before upload")
	}

	resp = doReq(t, http.MethodGet, fmt.Sprintf("%s/users/%d", env.app.URL, env.instructor.ID), adminToken, nil)
	expectStatus(t, resp, http.StatusOK)
	var inst map[string]interface{}
	decodeBody(t, resp, &inst)
	if courses, _ := inst["courses"].([]interface{}); len(courses) != 1 {
		t.Fatalf("expected instructor course list, got %v", inst)
	}

	resp = doReq(t, http.MethodGet, fmt.Sprintf("%s/users/%d", env.app.URL, env.admin.ID), adminToken, nil)
	expectStatus(t, resp, http.StatusOK)
	var admin map[string]interface{}
	decodeBody(t, resp, &admin)
	if _, ok := admin["courses"]; ok {
		t.Fatalf("expected no course list for admin, got %v", admin)
	}

	resp = doReq(t, http.MethodGet, fmt.Sprintf("%s/users/%d", env.app.URL, env.student2.ID), studentToken, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp = doReq(t, http.MethodGet, env.app.URL+"/users/9999", adminToken, nil)
	expectStatus(t, resp, http.StatusForbidden)
}

func TestAvatarLifecycle(t *testing.T) {
	env := newTestEnv(t)
	studentToken := mustToken(t, env.student.Subject)
	avatarURL := fmt.Sprintf("%s/users/%d/avatar", env.app.URL, env.student.ID)
	png := []byte("\x89PNG\r\n\x1a\nfake-image")

	// Missing file is reported before authentication.
	resp := doUpload(t, avatarURL, "", "", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp = doUpload(t, avatarURL, "", "avatar.png", []byte{})
	expectStatus(t, resp, http.StatusBadRequest)
	resp = doUpload(t, avatarURL, studentToken, "avatar.png", []byte{})
	expectStatus(t, resp, http.StatusBadRequest)
	if exists, _ := env.bucket.Exists(context.Background(), blob.AvatarKey(env.student.ID)); exists {
		t.Fatalf("expected empty upload to store nothing")
	}
	resp = doUpload(t, avatarURL, "", "avatar.png", png)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp = doUpload(t, avatarURL, mustToken(t, env.admin.Subject), "avatar.png", png)
	expectStatus(t, resp, http.StatusForbidden)

	resp = doUpload(t, avatarURL, studentToken, "avatar.png", png)
	expectStatus(t, resp, http.StatusOK)
	var uploaded map[string]string
	decodeBody(t, resp, &uploaded)
	if uploaded["avatar_url"] != avatarURL {
		t.Fatalf("unexpected avatar_url %q", uploaded["avatar_url"])
	}

	resp = doReq(t, http.MethodGet, avatarURL, studentToken, nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(data, png) {
		t.Fatalf("avatar bytes differ")
	}

	resp = doReq(t, http.MethodGet, fmt.Sprintf("%s/users/%d", env.app.URL, env.student.ID), studentToken, nil)
	expectStatus(t, resp, http.StatusOK)
	var self map[string]interface{}
	decodeBody(t, resp, &self)
	if self["avatar_url"] != avatarURL {
		t.Fatalf("expected avatar_url on user, got %v", self)
	}

	// Other users, admins included, cannot read it.
	resp = doReq(t, http.MethodGet, avatarURL, mustToken(t, env.student2.Subject), nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp = doReq(t, http.MethodGet, avatarURL, mustToken(t, env.admin.Subject), nil)
	expectStatus(t, resp, http.StatusForbidden)

	resp = doReq(t, http.MethodDelete, avatarURL, studentToken, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp = doReq(t, http.MethodGet, avatarURL, studentToken, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp = doReq(t, http.MethodDelete, avatarURL, studentToken, nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := doReq(t, http.MethodPost, env.app.URL+"/users/login", "", map[string]string{
		"username": "alice@example.com", "password": "correct",
	})
	expectStatus(t, resp, http.StatusOK)
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["token"] != "issued-token" {
		t.Fatalf("unexpected token body %v", body)
	}

	resp = doReq(t, http.MethodPost, env.app.URL+"/users/login", "", map[string]string{
		"username": "alice@example.com", "password": "wrong",
	})
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = doReq(t, http.MethodPost, env.app.URL+"/users/login", "", map[string]string{"username": "alice@example.com"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp = doReq(t, http.MethodPost, env.app.URL+"/users/login", "", "{")
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := doReq(t, http.MethodGet, env.app.URL+"/", "", nil)
	expectStatus(t, resp, http.StatusOK)
	var root map[string]string
	decodeBody(t, resp, &root)
	if root["message"] != "Tarpaulin API is running" {
		t.Fatalf("unexpected root body %v", root)
	}

	resp = doReq(t, http.MethodGet, env.app.URL+"/health", "", nil)
	expectStatus(t, resp, http.StatusOK)

	// Generate a denial so the counter has a sample.
	doReq(t, http.MethodGet, env.app.URL+"/users", mustToken(t, env.student.Subject), nil)
	resp = doReq(t, http.MethodGet, env.app.URL+"/metrics", "", nil)
	expectStatus(t, resp, http.StatusOK)
	data, _ := io.ReadAll(resp.Body)
	text := string(data)
	if !strings.Contains(text, "tarpaulin_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
	if !strings.Contains(text, `tarpaulin_authz_denials_total{action="user.list"} 1`) {
		t.Fatalf("expected denial counter in metrics output")
	}
}
