package channel

import "strings"

// Substrings of count lines ("1.2M subscribers", "3K watching") that sit where a
// channel name usually is. They only count when the text also has a digit.
var countFragments = []string{
	"subscriber", "abonné", "suscriptor", "abonnent", "iscritt", "inscrito",
	"подписчик", "登録者", "구독자", "订阅者",
	"views", "watching", "vues", "visualizaciones", "aufrufe",
}

// Whole-text labels (verification badges, bare count units and separators)
var boilerplateLabels = map[string]struct{}{
	"subscribers": {}, "subscriber": {}, "abonnés": {}, "abonné": {},
	"suscriptores": {}, "suscriptor": {}, "abonnenten": {}, "abonnent": {},
	"iscritti": {}, "iscritto": {}, "inscritos": {}, "inscrito": {},
	"подписчики": {}, "подписчиков": {}, "チャンネル登録者": {}, "구독자": {}, "订阅者": {},
	"views": {}, "watching": {}, "vues": {}, "visualizaciones": {}, "aufrufe": {},
	"verified": {}, "vérifié": {}, "verificado": {}, "verifiziert": {}, "verificato": {},
	"zweryfikowano": {}, "подтверждено": {}, "確認済み": {}, "인증됨": {}, "已验证": {},
	"official artist channel": {}, "•": {}, "·": {}, "|": {},
}

// isBoilerplate reports text that is not a channel name
func isBoilerplate(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return true
	}
	if _, ok := boilerplateLabels[lower]; ok {
		return true
	}
	if !strings.ContainsAny(lower, "0123456789") {
		return false
	}
	for _, frag := range countFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
