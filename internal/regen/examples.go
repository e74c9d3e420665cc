package regen

import "github.com/kamilpajak/testmend/pkg/models"

// Example is a before/after repair shown to the model.
type Example struct {
	Kind        models.FailureKind
	Title       string
	Before      string
	After       string
	Explanation string
}

// DefaultExamples is the built-in few-shot library.
var DefaultExamples = []Example{
	{
		Kind:  models.FailureFieldMissing,
		Title: "Renamed response field",
		Before: `test('get user', async ({ request }) => {
  const res = await request.get('/users/1');
  const body = await res.json();
  expect(body.user_name).toBe('ann');
});`,
		After: `test('get user', async ({ request }) => {
  const res = await request.get('/users/1');
  const body = await res.json();
  expect(body.userName).toBe('ann');
});`,
		Explanation: "The schema renamed user_name to userName.",
	},
	{
		Kind:  models.FailureStatusCodeChanged,
		Title: "Create now returns 201",
		Before: `test('create order', async ({ request }) => {
  const res = await request.post('/orders', { data: { sku: 'A1' } });
  expect(res.status()).toBe(200);
});`,
		After: `test('create order', async ({ request }) => {
  const res = await request.post('/orders', { data: { sku: 'A1' } });
  expect(res.status()).toBe(201);
});`,
		Explanation: "The success response for POST /orders moved from 200 to 201.",
	},
	{
		Kind:  models.FailureEndpointNotFound,
		Title: "Versioned path",
		Before: `test('list products', async ({ request }) => {
  const res = await request.get('/products');
  expect(res.ok()).toBeTruthy();
});`,
		After: `test('list products', async ({ request }) => {
  const res = await request.get('/v2/products');
  expect(res.ok()).toBeTruthy();
});`,
		Explanation: "GET /products was removed and GET /v2/products added.",
	},
	{
		Kind:  models.FailureTypeMismatch,
		Title: "Identifier became a string",
		Before: `test('get invoice', async ({ request }) => {
  const res = await request.get('/invoices/7');
  const body = await res.json();
  expect(typeof body.id).toBe('number');
});`,
		After: `test('get invoice', async ({ request }) => {
  const res = await request.get('/invoices/7');
  const body = await res.json();
  expect(typeof body.id).toBe('string');
});`,
		Explanation: "Invoice.id changed type from integer to string.",
	},
	{
		Kind:  models.FailureSchemaValidation,
		Title: "New required request field",
		Before: `test('register', async ({ request }) => {
  const res = await request.post('/accounts', { data: { name: 'Ann' } });
  expect(res.status()).toBe(201);
});`,
		After: `test('register', async ({ request }) => {
  const res = await request.post('/accounts', { data: { name: 'Ann', email: 'ann@example.com' } });
  expect(res.status()).toBe(201);
});`,
		Explanation: "Account gained a required email property.",
	},
}

// selectExamples returns up to n examples, those matching kind first.
func selectExamples(library []Example, kind models.FailureKind, n int) []Example {
	if n <= 0 {
		return nil
	}
	out := make([]Example, 0, n)
	for _, ex := range library {
		if ex.Kind == kind && len(out) < n {
			out = append(out, ex)
		}
	}
	for _, ex := range library {
		if ex.Kind != kind && len(out) < n {
			out = append(out, ex)
		}
	}
	return out
}
