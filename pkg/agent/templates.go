package agent

import "strings"

// DefaultFileContent returns starter content for well-known project entry
// points, or "" when the path has no default. Lets the planner scaffold a
// working app skeleton without generating boilerplate token-by-token.
func DefaultFileContent(requestedPath string) string {
	normalized := strings.ToLower(strings.ReplaceAll(requestedPath, "\\", "/"))

	switch {
	case strings.HasSuffix(normalized, "app/_layout.tsx"):
		return defaultLayoutTSX
	case strings.HasSuffix(normalized, "app/index.tsx"):
		return defaultIndexTSX
	case strings.HasSuffix(normalized, "app/details.tsx"):
		return defaultDetailsTSX
	}
	return ""
}

const defaultLayoutTSX = `import { Stack } from 'expo-router';

export default function RootLayout() {
    return (
        <Stack screenOptions={{ headerShown: false }}>
            <Stack.Screen name="index" />
        </Stack>
    );
}
`

const defaultIndexTSX = `import { View, Text, StyleSheet, Pressable } from 'react-native';
import { useRouter } from 'expo-router';

export default function HomeScreen() {
    const router = useRouter();

    return (
        <View style={styles.container}>
            <Text style={styles.title}>Bloom v0</Text>
            <Text style={styles.subtitle}>Kickstart your mobile app here ✨</Text>
            <Pressable style={styles.button} onPress={() => router.push('/details')}>
                <Text style={styles.buttonText}>View example</Text>
            </Pressable>
        </View>
    );
}

const styles = StyleSheet.create({
    container: { flex: 1, alignItems: 'center', justifyContent: 'center', padding: 24 },
    title: { fontSize: 32, fontWeight: '700', marginBottom: 12 },
    subtitle: { fontSize: 16, opacity: 0.6, marginBottom: 24, textAlign: 'center' },
    button: { backgroundColor: '#0f62fe', paddingHorizontal: 20, paddingVertical: 12, borderRadius: 10 },
    buttonText: { color: '#fff', fontSize: 16, fontWeight: '600' },
});
`

const defaultDetailsTSX = `import { View, Text, StyleSheet, Pressable } from 'react-native';
import { useRouter } from 'expo-router';

export default function DetailsScreen() {
    const router = useRouter();

    return (
        <View style={styles.container}>
            <Text style={styles.title}>Details</Text>
            <Text style={styles.subtitle}>Feel free to customize this screen.</Text>
            <Pressable style={styles.button} onPress={() => router.back()}>
                <Text style={styles.buttonText}>Go back</Text>
            </Pressable>
        </View>
    );
}

const styles = StyleSheet.create({
    container: { flex: 1, alignItems: 'center', justifyContent: 'center', padding: 24 },
    title: { fontSize: 28, fontWeight: '700', marginBottom: 12 },
    subtitle: { fontSize: 16, opacity: 0.6, marginBottom: 24, textAlign: 'center' },
    button: { backgroundColor: '#111827', paddingHorizontal: 20, paddingVertical: 12, borderRadius: 10 },
    buttonText: { color: '#fff', fontSize: 16, fontWeight: '600' },
});
`
