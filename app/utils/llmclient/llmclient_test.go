package llmclient

import "testing"

func TestParseJSONResponse(t *testing.T) {
	type item struct {
		StartSec float64 `json:"start_sec"`
		EndSec   float64 `json:"end_sec"`
	}

	cases := []struct {
		name  string
		input string
	}{
		{"裸JSON", `[{"start_sec":1.5,"end_sec":30}]`},
		{"json代码块", "```json\n[{\"start_sec\":1.5,\"end_sec\":30}]\n```"},
		{"无语言标记的代码块", "```\n[{\"start_sec\":1.5,\"end_sec\":30}]\n```"},
		{"前后有解释文字", "分析结果如下:\n[{\"start_sec\":1.5,\"end_sec\":30}]"},
	}
	for _, c := range cases {
		var got []item
		if err := ParseJSONResponse(c.input, &got); err != nil {
			t.Errorf("%s: ParseJSONResponse failed: %v", c.name, err)
			continue
		}
		if len(got) != 1 || got[0].StartSec != 1.5 || got[0].EndSec != 30 {
			t.Errorf("%s: got %+v", c.name, got)
		}
	}
}

func TestParseJSONResponseObject(t *testing.T) {
	var got map[string]string
	input := "```json\n{\"title\": \"精彩片段\"}\n```"
	if err := ParseJSONResponse(input, &got); err != nil {
		t.Fatalf("ParseJSONResponse failed: %v", err)
	}
	if got["title"] != "精彩片段" {
		t.Errorf("got %+v", got)
	}
}

func TestParseJSONResponseNoJSON(t *testing.T) {
	var got []any
	if err := ParseJSONResponse("模型拒绝回答", &got); err == nil {
		t.Error("非JSON输出未报错")
	}
	if err := ParseJSONResponse("", &got); err == nil {
		t.Error("空输出未报错")
	}
}
