package llm

import (
	"fmt"
	"strings"
)

// KnownAuthors are the classic authors whose names the correction prompt
// normalizes.
var KnownAuthors = []string{
	"Balzac", "Zola", "Gide", "Apollinaire", "Shakespeare",
	"Radiguet", "Fante", "Hugo", "Proust", "Molière", "Dhôtel",
}

const (
	correctMaxTokens  = 60
	extractMaxTokens  = 120
	validateMaxTokens = 5
	agentTemperature  = 0.1
)

func correctionPrompt(text string) string {
	return fmt.Sprintf(`Texte OCR détecté :
%s

Tâches :
1) Corrige uniquement les erreurs d'OCR évidentes (lettres/accents).
2) Si tu reconnais un auteur classique (%s), corrige le nom.
3) Ne traduis rien et ne rajoute pas d'explication.
Réponds UNIQUEMENT par le texte corrigé.
`, text, strings.Join(KnownAuthors, ", "))
}

func extractionPrompt(text string) string {
	return fmt.Sprintf(`Analyse ce texte corrigé (titre/auteur/collection possibles) :
%s

Règles :
- Réponds UNIQUEMENT en JSON valide avec les clés "title", "author", "collection".
- Si inconnu -> null.

Exemple JSON :
{"title":"La Peau de Chagrin","author":"Honoré de Balzac","collection":"Classiques & Cie Lycée"}
`, text)
}

func validationPrompt(ocrText, title string, authors []string) string {
	return fmt.Sprintf(`OCR : %s
Google Books : %s – %s
Réponds uniquement par "Oui" ou "Non".
`, ocrText, title, strings.Join(authors, ", "))
}
